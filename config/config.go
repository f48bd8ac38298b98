// Package config handles primer.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a primer.toml runtime configuration.
type Config struct {
	Stack  Stack  `toml:"stack"`
	Limits Limits `toml:"limits"`
	Log    Log    `toml:"log"`

	// Dir is the directory containing the primer.toml file (set at load time).
	Dir string `toml:"-"`
}

// Stack configures the environment value stack.
type Stack struct {
	// InitialDepth is the number of slots preallocated per environment.
	InitialDepth int `toml:"initial-depth"`

	// MaxDepth is the hard limit CheckStack will grow the stack to.
	MaxDepth int `toml:"max-depth"`

	// DefaultReserve is the slot count reserved for a call whose
	// stack-space estimate is unknown.
	DefaultReserve int `toml:"default-reserve"`
}

// Limits caps registry allocation. Exceeding a cap is reported as an
// allocation failure, never as a crash.
type Limits struct {
	MaxObjects int `toml:"max-objects"`
	MaxRefs    int `toml:"max-refs"`
}

// Log configures logging verbosity for the commonlog backend.
type Log struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a primer.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "primer.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Stack.InitialDepth == 0 {
		c.Stack.InitialDepth = 32
	}
	if c.Stack.MaxDepth == 0 {
		c.Stack.MaxDepth = 4096
	}
	if c.Stack.DefaultReserve == 0 {
		c.Stack.DefaultReserve = 20
	}
	if c.Limits.MaxObjects == 0 {
		c.Limits.MaxObjects = 1 << 20
	}
	if c.Limits.MaxRefs == 0 {
		c.Limits.MaxRefs = 1 << 16
	}
}

func (c *Config) validate() error {
	if c.Stack.MaxDepth < c.Stack.InitialDepth {
		return fmt.Errorf("stack.max-depth %d is below stack.initial-depth %d",
			c.Stack.MaxDepth, c.Stack.InitialDepth)
	}
	if c.Stack.DefaultReserve < 1 {
		return fmt.Errorf("stack.default-reserve must be positive, got %d",
			c.Stack.DefaultReserve)
	}
	if c.Limits.MaxObjects < 1 || c.Limits.MaxRefs < 1 {
		return fmt.Errorf("limits must be positive")
	}
	return nil
}
