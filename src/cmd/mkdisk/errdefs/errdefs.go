// Package errdefs defines the error kinds a disk image build can fail with.
//
// Every kind wraps an optional cause so that callers can use errors.Is and
// errors.As on the chain, and the Is* helpers test for a kind anywhere in it.
package errdefs

import (
	"errors"
	"fmt"
)

type kindError struct {
	msg string
	err error
}

func (e kindError) message(kind string) string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", kind, e.msg)
	}
	return fmt.Sprintf("%s: %s: %v", kind, e.msg, e.err)
}

// ConfigError is a missing or malformed configuration value.
type ConfigError struct{ kindError }

func (e *ConfigError) Error() string { return e.message("config error") }
func (e *ConfigError) Unwrap() error { return e.err }

// LayoutError is an unresolved, inverted, out of range or overlapping partition.
type LayoutError struct{ kindError }

func (e *LayoutError) Error() string { return e.message("layout error") }
func (e *LayoutError) Unwrap() error { return e.err }

// EncodingError is a layout that cannot be expressed in an on-disk record.
type EncodingError struct{ kindError }

func (e *EncodingError) Error() string { return e.message("encoding error") }
func (e *EncodingError) Unwrap() error { return e.err }

// BackendError is any failure surfaced by the storage backend.
type BackendError struct{ kindError }

func (e *BackendError) Error() string { return e.message("backend error") }
func (e *BackendError) Unwrap() error { return e.err }

// HostIOError is a missing or unreadable file on the host.
type HostIOError struct{ kindError }

func (e *HostIOError) Error() string { return e.message("host i/o error") }
func (e *HostIOError) Unwrap() error { return e.err }

// Config returns a ConfigError with a formatted message.
func Config(format string, args ...interface{}) error {
	return &ConfigError{kindError{msg: fmt.Sprintf(format, args...)}}
}

// WrapConfig returns a ConfigError wrapping err.
func WrapConfig(err error, format string, args ...interface{}) error {
	return &ConfigError{kindError{msg: fmt.Sprintf(format, args...), err: err}}
}

// Layout returns a LayoutError with a formatted message.
func Layout(format string, args ...interface{}) error {
	return &LayoutError{kindError{msg: fmt.Sprintf(format, args...)}}
}

// WrapLayout returns a LayoutError wrapping err.
func WrapLayout(err error, format string, args ...interface{}) error {
	return &LayoutError{kindError{msg: fmt.Sprintf(format, args...), err: err}}
}

// Encoding returns an EncodingError with a formatted message.
func Encoding(format string, args ...interface{}) error {
	return &EncodingError{kindError{msg: fmt.Sprintf(format, args...)}}
}

// Backend returns a BackendError with a formatted message.
func Backend(format string, args ...interface{}) error {
	return &BackendError{kindError{msg: fmt.Sprintf(format, args...)}}
}

// WrapBackend returns a BackendError wrapping err. A HostIOError cause is
// returned unchanged so that the root kind is kept.
func WrapBackend(err error, format string, args ...interface{}) error {
	if IsHostIO(err) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	return &BackendError{kindError{msg: fmt.Sprintf(format, args...), err: err}}
}

// HostIO returns a HostIOError wrapping err.
func HostIO(err error, format string, args ...interface{}) error {
	return &HostIOError{kindError{msg: fmt.Sprintf(format, args...), err: err}}
}

// IsConfig reports whether err has a ConfigError in its chain.
func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsLayout reports whether err has a LayoutError in its chain.
func IsLayout(err error) bool {
	var e *LayoutError
	return errors.As(err, &e)
}

// IsEncoding reports whether err has an EncodingError in its chain.
func IsEncoding(err error) bool {
	var e *EncodingError
	return errors.As(err, &e)
}

// IsBackend reports whether err has a BackendError in its chain.
func IsBackend(err error) bool {
	var e *BackendError
	return errors.As(err, &e)
}

// IsHostIO reports whether err has a HostIOError in its chain.
func IsHostIO(err error) bool {
	var e *HostIOError
	return errors.As(err, &e)
}
