package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"mobibook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Booking       BookingConfig       `yaml:"booking"`
	RateLimits    RateLimitsConfig    `yaml:"rate_limits"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Pricing       PricingConfig       `yaml:"pricing"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	JWT          JWTConfig      `yaml:"jwt"`
}

// APIClientKey is a machine client. Name and Role become the caller identity.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Role        string   `yaml:"role"`
	Permissions []string `yaml:"permissions"`
}

type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
	// Permissions granted per role to bearer callers. A role missing here is granted nothing.
	RolePermissions map[string][]string `yaml:"role_permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	Caller   bool   `yaml:"caller"`
}

const (
	ConsistencyTransaction = "transaction"
	ConsistencyCompensate  = "compensate"
)

type BookingConfig struct {
	ReferencePrefix string `yaml:"reference_prefix"`
	// Consistency selects one sqlite transaction per operation or explicit compensating steps.
	Consistency    string      `yaml:"consistency"`
	OverrideRoles  []string    `yaml:"override_roles"`
	MaxCASAttempts int         `yaml:"max_cas_attempts"`
	Compensation   RetryConfig `yaml:"compensation"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type RateLimitsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is memory or redis. Redis falls back to memory while unreachable.
	Backend string                 `yaml:"backend"`
	Actions map[string]ActionLimit `yaml:"actions"`
}

type ActionLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type NotificationsConfig struct {
	Driver        string        `yaml:"driver"`
	WebhookURL    string        `yaml:"webhook_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Retry         RetryConfig   `yaml:"retry"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	QueueKey      string        `yaml:"queue_key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
}

type PricingConfig struct {
	Currency        string             `yaml:"currency"`
	Services        map[string]int64   `yaml:"services"`
	SizeMultipliers map[string]float64 `yaml:"size_multipliers"`
	PerKm           int64              `yaml:"per_km"`
	FreeKm          float64            `yaml:"free_km"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Booking.Consistency {
	case ConsistencyTransaction, ConsistencyCompensate:
	default:
		return fmt.Errorf("booking.consistency must be %q or %q, got %q", ConsistencyTransaction, ConsistencyCompensate, c.Booking.Consistency)
	}

	if len(c.Booking.OverrideRoles) == 0 {
		return errors.New("booking.override_roles must name at least one role")
	}

	if c.API.Auth.JWT.Enabled && len(c.API.Auth.JWT.Secret) < 16 {
		return errors.New("api.auth.jwt.secret must be at least 16 bytes")
	}

	if err := ValidateAPIKeys(c.API.Auth.APIKeys); err != nil {
		return err
	}

	for action, limit := range c.RateLimits.Actions {
		if limit.Limit <= 0 {
			return fmt.Errorf("rate_limits.actions.%s.limit must be positive", action)
		}
	}

	switch c.Notifications.Driver {
	case "log", "none":
	case "webhook":
		if c.Notifications.WebhookURL == "" {
			return errors.New("notifications.webhook_url is required for the webhook driver")
		}
	default:
		return fmt.Errorf("unknown notifications.driver %q", c.Notifications.Driver)
	}

	return ValidatePricing(c.Pricing)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key for client '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func ValidatePricing(p PricingConfig) error {
	for service, price := range p.Services {
		if price < 0 {
			return fmt.Errorf("pricing.services.%s must not be negative", service)
		}
	}
	for size, m := range p.SizeMultipliers {
		if m <= 0 {
			return fmt.Errorf("pricing.size_multipliers.%s must be positive", size)
		}
	}
	if p.PerKm < 0 || p.FreeKm < 0 {
		return errors.New("pricing.per_km and pricing.free_km must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 1
	}
	if c.Database.BusyTimeoutMS == 0 {
		c.Database.BusyTimeoutMS = 5000
	}

	if c.Booking.ReferencePrefix == "" {
		c.Booking.ReferencePrefix = models.DefaultReferencePrefix
	}
	if c.Booking.Consistency == "" {
		c.Booking.Consistency = ConsistencyTransaction
	}
	if len(c.Booking.OverrideRoles) == 0 {
		c.Booking.OverrideRoles = []string{"admin"}
	}
	if c.Booking.MaxCASAttempts == 0 {
		c.Booking.MaxCASAttempts = models.DefaultMaxCASAttempts
	}
	if c.Booking.Compensation.MaxRetries == 0 {
		c.Booking.Compensation.MaxRetries = 3
	}
	if c.Booking.Compensation.InitialDelay == 0 {
		c.Booking.Compensation.InitialDelay = 50 * time.Millisecond
	}
	if c.Booking.Compensation.MaxDelay == 0 {
		c.Booking.Compensation.MaxDelay = time.Second
	}

	if c.RateLimits.Backend == "" {
		c.RateLimits.Backend = "memory"
	}
	for action, limit := range c.RateLimits.Actions {
		if limit.Window == 0 {
			limit.Window = models.DefaultRateLimitWindow
			c.RateLimits.Actions[action] = limit
		}
	}

	if c.Notifications.Driver == "" {
		c.Notifications.Driver = "log"
	}
	if c.Notifications.Timeout == 0 {
		c.Notifications.Timeout = 10 * time.Second
	}
	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = 2 * time.Second
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 20
	}
	if c.Notifications.QueueKey == "" {
		c.Notifications.QueueKey = "notifications:queue"
	}
	if c.Notifications.DeadLetterKey == "" {
		c.Notifications.DeadLetterKey = "notifications:deadletter"
	}

	if c.Pricing.Currency == "" {
		c.Pricing.Currency = "USD"
	}
}
