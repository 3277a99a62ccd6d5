// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

type loadOptions struct {
	optional bool
	lookup   func(string) (string, bool)
}

// Option configures Load.
type Option func(*loadOptions)

// Optional makes a missing file leave target unchanged. The target is
// still validated.
func Optional() Option {
	return func(o *loadOptions) { o.optional = true }
}

// WithLookup replaces os.LookupEnv as the source for ${VAR} expansion.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookup = fn }
}

// Load loads configuration from a YAML file into target. Keys absent from
// the file keep the values already in target. ${VAR} and $VAR are replaced
// from the environment; ${VAR:-default} falls back to default when VAR
// is unset or empty.
func Load[T any](filename string, target *T, opts ...Option) error {
	o := loadOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(filename)
	switch {
	case err == nil:
		expanded := Expand(string(data), o.lookup)
		if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	case o.optional && errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// Expand substitutes variables in s using lookup.
func Expand(s string, lookup func(string) (string, bool)) string {
	return os.Expand(s, func(name string) string {
		key, def, hasDefault := strings.Cut(name, ":-")
		if v, ok := lookup(key); ok && (v != "" || !hasDefault) {
			return v
		}
		return def
	})
}
