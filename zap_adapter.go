// zap_adapter.go: zap integration for the harvest Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter bridges a *zap.Logger to the harvest Logger interface.
//
// Key-value args are forwarded through zap's sugared logger, so values of
// any type are supported without pre-conversion.
//
// Example usage:
//
//	zl, _ := zap.NewProduction()
//	pipeline, err := harvest.NewPipeline(cfg, sink, harvest.NewZapAdapter(zl))
type ZapAdapter struct {
	sugar *zap.SugaredLogger
	level *zap.AtomicLevel
}

// NewZapAdapter wraps a zap logger. A nil logger yields a silent adapter.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Skip one frame so call sites inside the runtime are reported.
	return &ZapAdapter{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// NewZapAdapterWithLevel wraps a zap logger together with the atomic
// level controlling it, enabling runtime verbosity changes through the
// tunables watcher.
func NewZapAdapterWithLevel(logger *zap.Logger, level zap.AtomicLevel) *ZapAdapter {
	adapter := NewZapAdapter(logger)
	adapter.level = &level
	return adapter
}

// SetLevel implements LevelSetter. Unknown level names are ignored.
func (z *ZapAdapter) SetLevel(level string) {
	if z.level == nil {
		return
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		z.sugar.Warnw("Ignoring unknown log level", "level", level)
		return
	}
	z.level.SetLevel(parsed)
}

// Debug implements Logger.
func (z *ZapAdapter) Debug(msg string, args ...any) { z.sugar.Debugw(msg, normalizeArgs(args)...) }

// Info implements Logger.
func (z *ZapAdapter) Info(msg string, args ...any) { z.sugar.Infow(msg, normalizeArgs(args)...) }

// Warn implements Logger.
func (z *ZapAdapter) Warn(msg string, args ...any) { z.sugar.Warnw(msg, normalizeArgs(args)...) }

// Error implements Logger.
func (z *ZapAdapter) Error(msg string, args ...any) { z.sugar.Errorw(msg, normalizeArgs(args)...) }

// With implements Logger.
func (z *ZapAdapter) With(args ...any) Logger {
	return &ZapAdapter{sugar: z.sugar.With(normalizeArgs(args)...)}
}

// normalizeArgs pads odd-length key-value lists so zap does not drop the
// trailing key.
func normalizeArgs(args []any) []any {
	if len(args)%2 == 0 {
		return args
	}
	return append(args, "(missing)")
}
