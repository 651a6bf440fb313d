// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

type loadOptions struct {
	envFiles    []string
	defaultFile string
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

// WithEnvFiles loads the given dotenv files before expansion. Missing files
// are skipped; variables already set in the environment win.
func WithEnvFiles(files ...string) LoadOption {
	return func(o *loadOptions) { o.envFiles = append(o.envFiles, files...) }
}

// WithDefaultFile is read instead when filename does not exist.
func WithDefaultFile(path string) LoadOption {
	return func(o *loadOptions) { o.defaultFile = path }
}

// Load loads configuration from a YAML file with environment variable
// expansion. Both $VAR and ${VAR} are expanded, and ${VAR:-fallback} uses
// fallback when VAR is unset or empty.
func Load[T any](filename string, target *T, opts ...LoadOption) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	for _, f := range o.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	if o.defaultFile != "" {
		if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
			filename = o.defaultFile
		}
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}
