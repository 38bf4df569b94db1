// Package config handles tether.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full runtime configuration.
type Config struct {
	Memory MemoryConfig          `toml:"memory"`
	Ledger LedgerConfig          `toml:"ledger"`
	Pools  map[string]PoolConfig `toml:"pools"`
}

// MemoryConfig tunes the slab/frame allocator.
type MemoryConfig struct {
	// SlabSlots is the initial slot capacity of task-local frame stacks.
	SlabSlots int `toml:"slab-slots"`
}

// LedgerConfig tunes the borrow ledger.
type LedgerConfig struct {
	// SpinBudget is the CAS retry count before yielding to the scheduler.
	SpinBudget int `toml:"spin-budget"`
}

// PoolConfig configures one dispatch pool.
type PoolConfig struct {
	QueueCapacity int `toml:"queue-capacity"`
	Workers       int `toml:"workers"`
}

// Pool names recognized in the pools table.
const (
	PoolDefault     = "default"
	PoolInteractive = "interactive"
	PoolPinned      = "pinned"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{SlabSlots: 64},
		Ledger: LedgerConfig{SpinBudget: 64},
		Pools: map[string]PoolConfig{
			PoolDefault:     {QueueCapacity: 64, Workers: 4},
			PoolInteractive: {QueueCapacity: 16, Workers: 2},
			PoolPinned:      {QueueCapacity: 32, Workers: 1},
		},
	}
}

// Load reads tether.toml from the given directory, overlaid on the default
// configuration. A missing file is not an error: the defaults apply.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "tether.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Memory.SlabSlots < 1 {
		return fmt.Errorf("memory.slab-slots must be positive, got %d", c.Memory.SlabSlots)
	}
	if c.Ledger.SpinBudget < 1 {
		return fmt.Errorf("ledger.spin-budget must be positive, got %d", c.Ledger.SpinBudget)
	}
	for name, p := range c.Pools {
		switch name {
		case PoolDefault, PoolInteractive, PoolPinned:
		default:
			return fmt.Errorf("unknown pool %q", name)
		}
		if p.QueueCapacity < 1 {
			return fmt.Errorf("pool %q: queue-capacity must be positive, got %d", name, p.QueueCapacity)
		}
		if p.Workers < 1 {
			return fmt.Errorf("pool %q: workers must be positive, got %d", name, p.Workers)
		}
	}
	// The pinned pool represents a single execution context; more than one
	// worker would break its ordering contract.
	if p, ok := c.Pools[PoolPinned]; ok && p.Workers != 1 {
		return fmt.Errorf("pool %q: workers must be 1, got %d", PoolPinned, p.Workers)
	}
	return nil
}

// Pool returns the configuration for a named pool, falling back to the
// built-in defaults for pools the file left out.
func (c *Config) Pool(name string) PoolConfig {
	if p, ok := c.Pools[name]; ok {
		return p
	}
	return Default().Pools[name]
}
