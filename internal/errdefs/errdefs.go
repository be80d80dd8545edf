// Package errdefs defines the error classes shared by the detection engine.
//
// Callers classify failures with errors.Is against the sentinels; the typed
// errors carry the interval (and key) an individual failure belongs to.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a malformed schedule or run configuration. Fatal,
	// the run never starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidArgument marks a missing required input. Fatal, the run never starts.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInjection marks a single keystroke that could not be emitted.
	ErrInjection = errors.New("injection failure")

	// ErrMonitoring marks a failed per-interval activity sample.
	ErrMonitoring = errors.New("monitoring failure")

	// ErrCancelled marks a cooperatively aborted run.
	ErrCancelled = errors.New("run cancelled")
)

// Configuration wraps a formatted message as a configuration error.
func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// InvalidArgument wraps a formatted message as an invalid argument error.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type InjectionError struct {
	Interval int
	Key      int
	Char     rune
	Err      error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("interval %d key %d (%q): %v", e.Interval, e.Key, e.Char, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

func (e *InjectionError) Is(target error) bool { return target == ErrInjection }

type MonitoringError struct {
	Interval int
	Err      error
}

func (e *MonitoringError) Error() string {
	return fmt.Sprintf("interval %d: monitoring failed: %v", e.Interval, e.Err)
}

func (e *MonitoringError) Unwrap() error { return e.Err }

func (e *MonitoringError) Is(target error) bool { return target == ErrMonitoring }

// Cancelled wraps the context error that stopped a run so that both
// errors.Is(err, ErrCancelled) and errors.Is(err, context.Canceled) hold.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
