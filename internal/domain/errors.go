package domain

import (
	"fmt"
	"strings"
)

// MissingCoordinateError is returned when the X/Y coordinate axes cannot be
// resolved from a dataset. It aborts processing of that dataset.
type MissingCoordinateError struct {
	Path      string
	Tried     [2][]string
	Resolved  []string
	Available []string
}

func (e *MissingCoordinateError) Error() string {
	return fmt.Sprintf("coordinates not fully defined for %s: resolved %v, tried x=%v y=%v, available [%s]",
		e.Path, e.Resolved, e.Tried[0], e.Tried[1], strings.Join(e.Available, ", "))
}

// ConfigurationError marks an inconsistent request or dataset layout, such as
// a tile whose size does not match its coordinate axes.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// Configf builds a ConfigurationError.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// IOWriteError wraps a failure writing a raster tile.
type IOWriteError struct {
	Path string
	Err  error
}

func (e *IOWriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *IOWriteError) Unwrap() error {
	return e.Err
}

// FetchError is a network fetch that failed after all retry attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
