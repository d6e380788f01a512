package config

import "fmt"

// ConfigurationError reports an unusable configuration value. It is only
// returned during startup and is treated as fatal by the binaries.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func configErr(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}
