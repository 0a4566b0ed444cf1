// tunables_watcher.go: Hot reload of runtime tunables with Argus integration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Tunables are the runtime-adjustable knobs that can change without a
// pipeline restart. Structural settings (buffer capacity, pool size,
// spill location) are deliberately absent; changing those requires a
// restart.
type Tunables struct {
	// LogLevel adjusts runtime logging verbosity: debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// FlushInterval overrides the flusher's timer period.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// FlushThreshold overrides the buffer depth that triggers an early flush.
	FlushThreshold int `json:"flush_threshold" yaml:"flush_threshold"`

	// BreakerFailureThreshold overrides the consecutive-failure count that
	// opens a plugin's circuit breaker. Applies to breakers created after
	// the change and to existing breakers on their next reset.
	BreakerFailureThreshold int `json:"breaker_failure_threshold" yaml:"breaker_failure_threshold"`

	// SchedulerThrottle is the global collection interval multiplier.
	// Values above 1 slow every plugin down proportionally.
	SchedulerThrottle float64 `json:"scheduler_throttle" yaml:"scheduler_throttle"`
}

// TunablesApplyFunc receives each successfully parsed tunables document.
type TunablesApplyFunc func(t Tunables)

// TunablesWatcher hot-reloads a tunables file (JSON or YAML) and applies
// each valid revision through a callback. Invalid documents are logged
// and skipped; the previous revision stays in effect.
type TunablesWatcher struct {
	path    string
	logger  Logger
	apply   TunablesApplyFunc
	watcher *argus.Watcher

	current atomic.Pointer[Tunables]

	mu      sync.Mutex
	started bool
}

// NewTunablesWatcher creates a watcher for the given file. Watching does
// not begin until Start.
func NewTunablesWatcher(path string, logger any, apply TunablesApplyFunc) *TunablesWatcher {
	internalLogger := NewLogger(logger)
	tw := &TunablesWatcher{
		path:   path,
		logger: internalLogger,
		apply:  apply,
	}
	tw.watcher = argus.New(argus.Config{
		PollInterval:         2 * time.Second,
		CacheTTL:             time.Second,
		MaxWatchedFiles:      2,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			internalLogger.Error("Tunables file watching error", "error", err, "file", filepath)
		},
	})
	return tw
}

// Start loads the file once (when present), applies it, and begins
// watching for changes. A missing file is not an error; the watcher
// picks it up on creation.
func (tw *TunablesWatcher) Start() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.started {
		return nil
	}

	if _, err := os.Stat(tw.path); err == nil {
		if err := tw.reload(tw.path); err != nil {
			return err
		}
	}

	if err := tw.watcher.Watch(tw.path, tw.handleChange); err != nil {
		return NewTunablesFileError(tw.path, err)
	}
	if err := tw.watcher.Start(); err != nil {
		return NewTunablesFileError(tw.path, err)
	}
	tw.started = true
	return nil
}

// Stop halts file watching.
func (tw *TunablesWatcher) Stop() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.started {
		return nil
	}
	tw.started = false
	return tw.watcher.Stop()
}

// Current returns the most recently applied tunables, or false when no
// valid document has been loaded yet.
func (tw *TunablesWatcher) Current() (Tunables, bool) {
	t := tw.current.Load()
	if t == nil {
		return Tunables{}, false
	}
	return *t, true
}

func (tw *TunablesWatcher) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		tw.logger.Warn("Tunables file deleted, keeping last applied revision", "path", event.Path)
		return
	}
	if err := tw.reload(event.Path); err != nil {
		tw.logger.Error("Tunables reload rejected", "error", err, "path", event.Path)
	}
}

// reload parses the file, validates it, applies it, and records it as
// the current revision.
func (tw *TunablesWatcher) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewTunablesFileError(path, err)
	}

	var t Tunables
	switch format := argus.DetectFormat(path); format {
	case argus.FormatJSON:
		err = json.Unmarshal(data, &t)
	case argus.FormatYAML:
		err = yaml.Unmarshal(data, &t)
	default:
		return NewTunablesParseError(path, fmt.Errorf("unsupported config format: %s", format))
	}
	if err != nil {
		return NewTunablesParseError(path, err)
	}

	if err := t.Validate(); err != nil {
		return err
	}

	tw.current.Store(&t)
	if tw.apply != nil {
		tw.apply(t)
	}
	tw.logger.Info("Tunables applied",
		"path", path,
		"log_level", t.LogLevel,
		"flush_interval", t.FlushInterval,
		"flush_threshold", t.FlushThreshold,
		"scheduler_throttle", t.SchedulerThrottle)
	return nil
}

// Validate rejects documents whose set fields are out of range. Zero
// values mean "leave unchanged" and are always valid.
func (t Tunables) Validate() error {
	switch t.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return NewInvalidTunableError("log_level", t.LogLevel)
	}
	if t.FlushInterval < 0 {
		return NewInvalidTunableError("flush_interval", t.FlushInterval.String())
	}
	if t.FlushThreshold < 0 {
		return NewInvalidTunableError("flush_threshold", strconv.Itoa(t.FlushThreshold))
	}
	if t.BreakerFailureThreshold < 0 {
		return NewInvalidTunableError("breaker_failure_threshold", strconv.Itoa(t.BreakerFailureThreshold))
	}
	if t.SchedulerThrottle < 0 {
		return NewInvalidTunableError("scheduler_throttle", "negative")
	}
	return nil
}
