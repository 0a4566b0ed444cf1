// logging.go: Pluggable logging for the harvest runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"sync"
)

// Logger defines the pluggable logging interface for the harvest runtime.
//
// This interface enables users to integrate any logging framework (zap,
// logrus, zerolog, custom loggers) without forcing a dependency on one.
// A ZapAdapter is provided for zap users; NewLogger adapts nil to a
// silent logger.
//
// Design principles:
//   - Structured args: key-value pairs for structured logging
//   - Contextual logging: With() for persistent context fields
//   - Level-based: Debug, Info, Warn, Error
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// LevelSetter is an optional extension for loggers whose verbosity can
// change at runtime. The tunables watcher uses it to apply log_level
// updates; loggers without it simply ignore the tunable.
type LevelSetter interface {
	SetLevel(level string)
}

// NewLogger normalizes supported logger inputs to the Logger interface.
//
// Supported types:
//   - Logger interface: used directly
//   - nil: returns a NoOpLogger for silent operation
//   - anything else: panics with a descriptive message
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected harvest.Logger interface or nil")
	}
}

// NoOpLogger discards all log messages. Useful for tests and for setups
// where the host application does its own logging around the pipeline.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// TestLogger captures log messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage is one captured log record.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new capturing logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{Messages: make([]TestLogMessage, 0)}
}

func (t *TestLogger) append(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{Level: level, Message: msg, Args: args})
}

// Debug implements Logger (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.append("DEBUG", msg, args) }

// Info implements Logger (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.append("INFO", msg, args) }

// Warn implements Logger (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.append("WARN", msg, args) }

// Error implements Logger (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.append("ERROR", msg, args) }

// With implements Logger; context chaining is not tracked in tests, the
// same capturing sink is reused.
func (t *TestLogger) With(args ...any) Logger {
	return t
}

// HasMessage checks whether a message with the given level and text was captured.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// DefaultLogger returns the logger used when none is supplied.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}
