package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Memory.SlabSlots != 64 {
		t.Errorf("Expected default slab-slots 64, got %d", cfg.Memory.SlabSlots)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	src := `
[memory]
slab-slots = 128

[pools.default]
queue-capacity = 8
workers = 2
`
	if err := os.WriteFile(filepath.Join(dir, "tether.toml"), []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Memory.SlabSlots != 128 {
		t.Errorf("Expected slab-slots 128, got %d", cfg.Memory.SlabSlots)
	}
	if p := cfg.Pool(PoolDefault); p.QueueCapacity != 8 || p.Workers != 2 {
		t.Errorf("Expected default pool {8 2}, got %+v", p)
	}
	// Untouched sections keep their defaults.
	if cfg.Ledger.SpinBudget != 64 {
		t.Errorf("Expected default spin-budget 64, got %d", cfg.Ledger.SpinBudget)
	}
	if p := cfg.Pool(PoolPinned); p.Workers != 1 {
		t.Errorf("Expected pinned pool to keep 1 worker, got %d", p.Workers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero slab slots", func(c *Config) { c.Memory.SlabSlots = 0 }},
		{"zero spin budget", func(c *Config) { c.Ledger.SpinBudget = 0 }},
		{"zero queue capacity", func(c *Config) {
			c.Pools[PoolDefault] = PoolConfig{QueueCapacity: 0, Workers: 1}
		}},
		{"multi-worker pinned pool", func(c *Config) {
			c.Pools[PoolPinned] = PoolConfig{QueueCapacity: 4, Workers: 2}
		}},
		{"unknown pool", func(c *Config) {
			c.Pools["batch"] = PoolConfig{QueueCapacity: 4, Workers: 1}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}
