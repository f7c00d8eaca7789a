package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrNoClickPosition indicates manual mode has no recorded coordinate yet
	ErrNoClickPosition = errors.New("no click position recorded")

	// ErrButtonNotFound indicates template matching found no candidate above the threshold
	ErrButtonNotFound = errors.New("download button not found on screen")

	// ErrNoTemplates indicates auto-detection was requested without any usable template
	ErrNoTemplates = errors.New("no button template available")

	// ErrUnsupported indicates the browser provider lacks an optional capability
	ErrUnsupported = errors.New("operation not supported by browser provider")
)

// ConfigError reports an invalid configuration value. Fatal before any item is processed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ResolutionError reports that no click position could be obtained for an item.
// The item is recorded failed and the run continues.
type ResolutionError struct {
	Item WorkItem
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve click position for %s: %v", e.Item, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ActionError reports a failure at the browser capability boundary.
type ActionError struct {
	Op  string
	Err error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// PersistenceError reports that progress could not be written durably.
// Fatal: the run stops rather than lose resumability.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("progress %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsPersistenceError reports whether err is, or wraps, a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
