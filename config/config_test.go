package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverMemory)
	}
	if cfg.Ledger.MaxConflictRetries != 5 {
		t.Errorf("Ledger.MaxConflictRetries = %d, want 5", cfg.Ledger.MaxConflictRetries)
	}
	if cfg.Auth.AdminRole != "admin" {
		t.Errorf("Auth.AdminRole = %q, want admin", cfg.Auth.AdminRole)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error: %v", err)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credit.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
[server]
addr = ":9090"
shutdown_timeout = "3s"

[store]
driver = "sqlite"
dsn = "credit.db"

[ledger]
currency = "brl"
default_initial_credits = "100.00"
default_markup_percentage = "15"
low_balance_threshold = "20.00"

[[carriers]]
name = "acme-post"
url = "http://carrier.internal/labels"
timeout = "5s"
`)
	t.Setenv("CREDIT_LOG_LEVEL", "debug")
	t.Setenv("CREDIT_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want default 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}

	if len(cfg.Carriers) != 1 || cfg.Carriers[0].Timeout != 5*time.Second {
		t.Errorf("Carriers = %+v", cfg.Carriers)
	}

	sys, err := cfg.Ledger.Defaults()
	if err != nil {
		t.Fatalf("Defaults() error: %v", err)
	}
	if sys.DefaultInitialCredits.Amount != 10000 || sys.DefaultInitialCredits.Currency != "brl" {
		t.Errorf("DefaultInitialCredits = %+v", sys.DefaultInitialCredits)
	}
	if sys.LowBalanceThreshold.Amount != 2000 {
		t.Errorf("LowBalanceThreshold = %+v", sys.LowBalanceThreshold)
	}
	if sys.DefaultMarkupPercentage.String() != "15" {
		t.Errorf("DefaultMarkupPercentage = %s, want 15", sys.DefaultMarkupPercentage)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "[store]\ndriverr = \"memory\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want unknown key error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"mongo without database", func(c *Config) {
			c.Store.Driver = DriverMongo
			c.Store.DSN = "mongodb://localhost"
		}},
		{"zero retries", func(c *Config) { c.Ledger.MaxConflictRetries = 0 }},
		{"bad credits", func(c *Config) { c.Ledger.DefaultInitialCredits = "ten" }},
		{"negative threshold", func(c *Config) { c.Ledger.LowBalanceThreshold = "-1.00" }},
		{"negative markup", func(c *Config) { c.Ledger.DefaultMarkupPercentage = "-5" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"carrier without url", func(c *Config) { c.Carriers = []CarrierConfig{{Name: "ups"}} }},
		{"duplicate carrier", func(c *Config) {
			c.Carriers = []CarrierConfig{{Name: "ups", URL: "http://a"}, {Name: "UPS", URL: "http://b"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("CREDIT_MAX_CONFLICT_RETRIES", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}
