package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mobibook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("MOBIBOOK_DB_PATH", filepath.Join(tmpDir, "test.db"))

	yamlContent := `
database:
  path: "${MOBIBOOK_DB_PATH}"
booking:
  consistency: compensate
  compensation:
    initial_delay: 20ms
rate_limits:
  enabled: true
  actions:
    reserve:
      limit: 5
pricing:
  currency: EUR
  services:
    wash: 4500
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != filepath.Join(tmpDir, "test.db") {
		t.Errorf("expected expanded database path, got %s", cfg.Database.Path)
	}
	if cfg.Booking.Consistency != ConsistencyCompensate {
		t.Errorf("expected compensate consistency, got %s", cfg.Booking.Consistency)
	}
	if cfg.Booking.Compensation.InitialDelay != 20*time.Millisecond {
		t.Errorf("expected 20ms initial delay, got %s", cfg.Booking.Compensation.InitialDelay)
	}
	if got := cfg.RateLimits.Actions["reserve"]; got.Limit != 5 || got.Window != models.DefaultRateLimitWindow {
		t.Errorf("unexpected reserve limit %+v", got)
	}
	if cfg.Pricing.Services["wash"] != 4500 || cfg.Pricing.Currency != "EUR" {
		t.Errorf("unexpected pricing %+v", cfg.Pricing)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	cfg := Config{Database: DatabaseConfig{Path: "path"}}
	cfg.applyDefaults()
	return cfg
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "unknown consistency",
			mutate:  func(c *Config) { c.Booking.Consistency = "eventual" },
			wantErr: true,
		},
		{
			name:    "no override roles",
			mutate:  func(c *Config) { c.Booking.OverrideRoles = nil },
			wantErr: true,
		},
		{
			name: "short jwt secret",
			mutate: func(c *Config) {
				c.API.Auth.JWT = JWTConfig{Enabled: true, Secret: "short"}
			},
			wantErr: true,
		},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "k", Name: "a"}, {Key: "k", Name: "b"}}
			},
			wantErr: true,
		},
		{
			name: "zero action limit",
			mutate: func(c *Config) {
				c.RateLimits.Actions = map[string]ActionLimit{"reserve": {Limit: 0, Window: time.Minute}}
			},
			wantErr: true,
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Notifications.Driver = "webhook" },
			wantErr: true,
		},
		{
			name: "negative service price",
			mutate: func(c *Config) {
				c.Pricing.Services = map[string]int64{"wash": -1}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Booking.Consistency != ConsistencyTransaction {
		t.Errorf("expected transaction consistency by default, got %s", cfg.Booking.Consistency)
	}
	if cfg.Booking.ReferencePrefix != models.DefaultReferencePrefix {
		t.Errorf("expected reference prefix %s, got %s", models.DefaultReferencePrefix, cfg.Booking.ReferencePrefix)
	}
	if cfg.Booking.MaxCASAttempts != models.DefaultMaxCASAttempts {
		t.Errorf("expected %d CAS attempts, got %d", models.DefaultMaxCASAttempts, cfg.Booking.MaxCASAttempts)
	}
	if len(cfg.Booking.OverrideRoles) != 1 || cfg.Booking.OverrideRoles[0] != "admin" {
		t.Errorf("expected admin override role, got %v", cfg.Booking.OverrideRoles)
	}
	if cfg.Database.MaxOpenConns != 1 {
		t.Errorf("expected single sqlite connection, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Notifications.Driver != "log" {
		t.Errorf("expected log notifier, got %s", cfg.Notifications.Driver)
	}
}

func TestValidateAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []APIClientKey
		wantErr bool
	}{
		{
			name:    "Valid keys",
			keys:    []APIClientKey{{Key: "a", Name: "crm"}, {Key: "b", Name: "app"}},
			wantErr: false,
		},
		{
			name:    "Empty key",
			keys:    []APIClientKey{{Key: "  ", Name: "crm"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeys(tt.keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
