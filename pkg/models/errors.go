package models

import (
	"errors"
	"strings"
)

// ConfigurationError rejects a run before any worker is spawned.
type ConfigurationError struct {
	Reason string
	// Tasks names the offending tasks, when known.
	Tasks []string
	// Err is the underlying sentinel, if any.
	Err error
}

func (e *ConfigurationError) Error() string {
	if len(e.Tasks) == 0 {
		return "configuration rejected: " + e.Reason
	}
	return "configuration rejected: " + e.Reason + " [" + strings.Join(e.Tasks, ", ") + "]"
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
