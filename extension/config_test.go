package extension

import (
	"testing"
	"time"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{Currency: "brl", DefaultInitialCredits: "100.00"})

	if cfg.Currency != "brl" {
		t.Errorf("Currency = %q, want brl", cfg.Currency)
	}
	if cfg.DefaultInitialCredits != "100.00" {
		t.Errorf("DefaultInitialCredits = %q, want 100.00", cfg.DefaultInitialCredits)
	}
	if cfg.MaxConflictRetries != 5 {
		t.Errorf("MaxConflictRetries = %d, want 5", cfg.MaxConflictRetries)
	}
	if cfg.ConflictBackoff != 10*time.Millisecond {
		t.Errorf("ConflictBackoff = %v, want 10ms", cfg.ConflictBackoff)
	}
	if cfg.LowBalanceThreshold != "0" {
		t.Errorf("LowBalanceThreshold = %q, want 0", cfg.LowBalanceThreshold)
	}
}

func TestMergeConfigurations(t *testing.T) {
	file := Config{Currency: "usd", DefaultMarkupPercentage: "15"}
	prog := Config{
		Currency:            "brl",
		DisableMigrate:      true,
		LowBalanceThreshold: "20.00",
	}

	cfg := mergeConfigurations(file, prog)

	if cfg.Currency != "usd" {
		t.Errorf("Currency = %q, want file value usd", cfg.Currency)
	}
	if !cfg.DisableMigrate {
		t.Error("DisableMigrate = false, want true")
	}
	if cfg.LowBalanceThreshold != "20.00" {
		t.Errorf("LowBalanceThreshold = %q, want 20.00", cfg.LowBalanceThreshold)
	}
	if cfg.DefaultMarkupPercentage != "15" {
		t.Errorf("DefaultMarkupPercentage = %q, want 15", cfg.DefaultMarkupPercentage)
	}
}

func TestBuildLedgerOpts(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"configured", func(c *Config) {
			c.DefaultInitialCredits = "100.00"
			c.DefaultMarkupPercentage = "15"
			c.LowBalanceThreshold = "20.00"
		}, false},
		{"bad credits", func(c *Config) { c.DefaultInitialCredits = "lots" }, true},
		{"too precise", func(c *Config) { c.LowBalanceThreshold = "1.005" }, true},
		{"bad markup", func(c *Config) { c.DefaultMarkupPercentage = "x" }, true},
		{"negative markup", func(c *Config) { c.DefaultMarkupPercentage = "-1" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			opts, err := buildLedgerOpts(cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildLedgerOpts() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(opts) != 3 {
				t.Errorf("len(opts) = %d, want 3", len(opts))
			}
		})
	}
}
