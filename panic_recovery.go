// panic_recovery.go: Panic containment utilities with stack trace capture
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"runtime"
)

// RecoveryHandler is invoked with the recovered value and stack trace when
// a contained goroutine panics.
type RecoveryHandler func(recovered any, stack []byte)

// withStackRecover returns a deferred recovery function that logs panic
// details with the full stack trace. Used around every goroutine the
// runtime spawns so a plugin or listener panic never crashes the process.
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// withRecoveryHandler returns a deferred recovery function that forwards
// panic details to a custom handler. The executor uses this to convert
// plugin panics into PluginCrashError results.
func withRecoveryHandler(handler RecoveryHandler) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			handler(r, buf[:n])
		}
	}
}

// safeGo runs fn in a new goroutine with automatic panic recovery.
func safeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}
