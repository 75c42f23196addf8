package radio

import (
	"errors"
	"fmt"
)

var (
	// ErrTuneRejected is returned by a driver that cannot tune to a frequency.
	ErrTuneRejected = errors.New("tune rejected")
	// ErrNoGainRange means the device cannot report its gain range.
	ErrNoGainRange = errors.New("gain range not available")
	ErrClosed      = errors.New("driver closed")
	// ErrNoSampleRate means the device reports no applied sample rate.
	ErrNoSampleRate = errors.New("device reports no sample rate")
)

// ConfigurationError reports a startup value that cannot be used. It is
// always fatal.
type ConfigurationError struct {
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid source %q: %s", e.Value, e.Reason)
}

// HardwareQueryError wraps a failed or timed out driver call.
type HardwareQueryError struct {
	Param string
	Op    string
	Err   error
}

func (e *HardwareQueryError) Error() string {
	return fmt.Sprintf("radio %s %s: %v", e.Op, e.Param, e.Err)
}

func (e *HardwareQueryError) Unwrap() error {
	return e.Err
}
