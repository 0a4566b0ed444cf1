// errors.go: structured error definitions for the harvest runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	stderrors "errors"
	"time"

	"github.com/agilira/go-errors"
)

// Error codes for the harvest runtime
const (
	// Configuration errors (1000-1099)
	ErrCodeInvalidPluginID   = "HARVEST_1001"
	ErrCodeDuplicatePlugin   = "HARVEST_1002"
	ErrCodeUnknownPluginType = "HARVEST_1003"
	ErrCodeConfigSchema      = "HARVEST_1004"
	ErrCodeConfigRejected    = "HARVEST_1005"
	ErrCodeInvalidTunable    = "HARVEST_1006"
	ErrCodeInvalidInterval   = "HARVEST_1007"

	// Collection execution errors (1200-1299)
	ErrCodePluginNotFound    = "HARVEST_1201"
	ErrCodePluginNotRunnable = "HARVEST_1202"
	ErrCodePluginCrash       = "HARVEST_1203"
	ErrCodePluginTimeout     = "HARVEST_1204"
	ErrCodeMetricValidation  = "HARVEST_1205"
	ErrCodePluginCollection  = "HARVEST_1206"

	// Circuit breaker errors (1400-1499)
	ErrCodeBreakerOpen = "HARVEST_1401"

	// Buffer errors (1500-1599)
	ErrCodeBufferOverflow = "HARVEST_1501"

	// Sink and spill errors (1600-1699)
	ErrCodeSinkWrite     = "HARVEST_1601"
	ErrCodeSinkExhausted = "HARVEST_1602"
	ErrCodeSpillFull     = "HARVEST_1603"
	ErrCodeSpillIO       = "HARVEST_1604"

	// Lifecycle errors (1700-1799)
	ErrCodeInvalidTransition = "HARVEST_1701"
	ErrCodePluginFailed      = "HARVEST_1702"
	ErrCodeShutdownTimeout   = "HARVEST_1703"

	// Tunables watcher errors (1800-1899)
	ErrCodeTunablesFile  = "HARVEST_1801"
	ErrCodeTunablesParse = "HARVEST_1802"
)

// Configuration error constructors

func NewInvalidPluginIDError(id string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginID, "Invalid plugin ID").
		WithUserMessage("Plugin ID is required and cannot be empty").
		WithContext("provided_id", id).
		WithSeverity("error")
}

func NewDuplicatePluginError(id string) *errors.Error {
	return errors.New(ErrCodeDuplicatePlugin, "Duplicate plugin ID").
		WithUserMessage("A plugin with this ID is already loaded").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewUnknownPluginTypeError(pluginType string) *errors.Error {
	return errors.New(ErrCodeUnknownPluginType, "Unknown plugin type").
		WithUserMessage("No factory is registered for this plugin type").
		WithContext("plugin_type", pluginType).
		WithSeverity("error")
}

func NewConfigSchemaError(pluginID, field, reason string) *errors.Error {
	return errors.New(ErrCodeConfigSchema, "Configuration schema violation").
		WithUserMessage("Plugin configuration does not match the declared schema").
		WithContext("plugin_id", pluginID).
		WithContext("field", field).
		WithContext("reason", reason).
		WithSeverity("error")
}

func NewConfigRejectedError(pluginID string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigRejected, "Configuration rejected by plugin").
			WithContext("plugin_id", pluginID).
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigRejected, "Configuration rejected by plugin").
		WithContext("plugin_id", pluginID).
		WithSeverity("error")
}

func NewInvalidTunableError(field, value string) *errors.Error {
	return errors.New(ErrCodeInvalidTunable, "Invalid tunable value").
		WithUserMessage("Tunable value is out of range; previous revision stays in effect").
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity("warning")
}

func NewInvalidIntervalError(pluginID string, interval time.Duration) *errors.Error {
	return errors.New(ErrCodeInvalidInterval, "Invalid collection interval").
		WithUserMessage("Collection interval must be positive").
		WithContext("plugin_id", pluginID).
		WithContext("interval", interval.String()).
		WithSeverity("error")
}

// Collection execution error constructors

func NewPluginNotFoundError(id string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("No plugin instance is loaded under this ID").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewPluginNotRunnableError(id string, state PluginState) *errors.Error {
	return errors.New(ErrCodePluginNotRunnable, "Plugin not runnable").
		WithUserMessage("Plugin is not in a dispatchable lifecycle state").
		WithContext("plugin_id", id).
		WithContext("state", state.String()).
		WithSeverity("warning")
}

func NewPluginCrashError(id string, panicValue any) *errors.Error {
	return errors.New(ErrCodePluginCrash, "Plugin crashed during collection").
		WithUserMessage("The collector panicked and was contained").
		WithContext("plugin_id", id).
		WithContext("panic", panicValue).
		WithSeverity("error")
}

func NewPluginCollectionError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodePluginCollection, "Plugin collection failed").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewPluginTimeoutError(id string, timeout time.Duration) *errors.Error {
	return errors.New(ErrCodePluginTimeout, "Plugin collection timed out").
		WithUserMessage("The collector exceeded its maximum collection duration").
		WithContext("plugin_id", id).
		WithContext("timeout", timeout.String()).
		WithSeverity("error")
}

func NewMetricValidationError(id, reason string) *errors.Error {
	return errors.New(ErrCodeMetricValidation, "Invalid metric dropped").
		WithContext("plugin_id", id).
		WithContext("reason", reason).
		WithSeverity("warning")
}

// Circuit breaker error constructors

func NewBreakerOpenError(id string) *errors.Error {
	return errors.New(ErrCodeBreakerOpen, "Circuit breaker open").
		WithUserMessage("Collection dispatch is suspended for this plugin").
		WithContext("plugin_id", id).
		WithSeverity("warning")
}

// Buffer error constructors

func NewBufferOverflowError(capacity int) *errors.Error {
	return errors.New(ErrCodeBufferOverflow, "Metric buffer full").
		WithUserMessage("The metric buffer is at capacity and rejected the push").
		WithContext("capacity", capacity).
		WithSeverity("warning")
}

// Sink and spill error constructors

func NewSinkWriteError(cause error, attempt int) *errors.Error {
	return errors.Wrap(cause, ErrCodeSinkWrite, "Sink batch write failed").
		WithContext("attempt", attempt).
		WithSeverity("warning")
}

func NewSinkExhaustedError(cause error, attempts int) *errors.Error {
	return errors.Wrap(cause, ErrCodeSinkExhausted, "Sink retries exhausted").
		WithUserMessage("All delivery attempts failed; batch moved to spill").
		WithContext("attempts", attempts).
		WithSeverity("error")
}

func NewSpillFullError(limitBytes int64) *errors.Error {
	return errors.New(ErrCodeSpillFull, "Overflow spill is full").
		WithUserMessage("Spill capacity exhausted while the sink is unavailable; data loss is imminent").
		WithContext("limit_bytes", limitBytes).
		WithSeverity("critical")
}

func NewSpillIOError(op string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSpillIO, "Spill I/O failure").
		WithContext("op", op).
		WithSeverity("error")
}

// Lifecycle error constructors

func NewInvalidTransitionError(id string, from, to PluginState) *errors.Error {
	return errors.New(ErrCodeInvalidTransition, "Invalid lifecycle transition").
		WithContext("plugin_id", id).
		WithContext("from", from.String()).
		WithContext("to", to.String()).
		WithSeverity("error")
}

func NewPluginFailedError(id string, restarts int) *errors.Error {
	return errors.New(ErrCodePluginFailed, "Plugin permanently failed").
		WithUserMessage("Restart attempts exceeded the configured maximum; reload manually to recover").
		WithContext("plugin_id", id).
		WithContext("restarts", restarts).
		WithSeverity("critical")
}

func NewShutdownTimeoutError(component string) *errors.Error {
	return errors.New(ErrCodeShutdownTimeout, "Shutdown deadline exceeded").
		WithContext("component", component).
		WithSeverity("error")
}

// Tunables watcher error constructors

func NewTunablesFileError(path string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeTunablesFile, "Tunables file error").
			WithContext("path", path).
			WithSeverity("error")
	}
	return errors.New(ErrCodeTunablesFile, "Tunables file error").
		WithContext("path", path).
		WithSeverity("error")
}

func NewTunablesParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeTunablesParse, "Tunables parse error").
		WithContext("path", path).
		WithSeverity("error")
}

// hasErrorCode reports whether err carries the given harvest error code.
func hasErrorCode(err error, code string) bool {
	var herr *errors.Error
	if stderrors.As(err, &herr) {
		return string(herr.ErrorCode()) == code
	}
	return false
}

// IsConfigurationError reports whether err is a load-time configuration
// rejection: bad or duplicate plugin ID, unknown type, schema violation,
// plugin veto, an out-of-range tunable, or a non-positive collection
// interval.
func IsConfigurationError(err error) bool {
	for _, code := range []string{
		ErrCodeInvalidPluginID,
		ErrCodeDuplicatePlugin,
		ErrCodeUnknownPluginType,
		ErrCodeConfigSchema,
		ErrCodeConfigRejected,
		ErrCodeInvalidTunable,
		ErrCodeInvalidInterval,
	} {
		if hasErrorCode(err, code) {
			return true
		}
	}
	return false
}

// IsPluginTimeout reports whether err is a collection deadline expiry.
func IsPluginTimeout(err error) bool {
	return hasErrorCode(err, ErrCodePluginTimeout)
}

// IsPluginCrash reports whether err is a contained plugin crash.
func IsPluginCrash(err error) bool {
	return hasErrorCode(err, ErrCodePluginCrash)
}

// IsBufferOverflow reports whether err is a buffer-full rejection.
func IsBufferOverflow(err error) bool {
	return hasErrorCode(err, ErrCodeBufferOverflow)
}

// IsBreakerOpen reports whether err is a circuit-breaker rejection.
func IsBreakerOpen(err error) bool {
	return hasErrorCode(err, ErrCodeBreakerOpen)
}

// IsSpillFull reports whether err indicates spill capacity exhaustion,
// the only condition this subsystem surfaces as fatal.
func IsSpillFull(err error) bool {
	return hasErrorCode(err, ErrCodeSpillFull)
}
