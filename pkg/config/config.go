// Package config loads application configuration from environment
// variables with an optional YAML overlay file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appmantle/appmantle/pkg/observability"
)

// Default token lifetimes. Production tokens are long-lived by contract;
// non-production tokens get a far-future cap so test fixtures stay
// stable without ever minting a token that outlives the int64 duration
// range.
const (
	ProductionTokenTTL    = 7000 * time.Hour
	NonProductionTokenTTL = 1000000 * time.Hour
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	S3            S3Config
	Jobs          JobsConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig

	// ConfigFile is the optional YAML overlay path, watched for log
	// level changes at runtime.
	ConfigFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds credential and token settings
type AuthConfig struct {
	// Environment selects the default token TTL ("production" or anything else)
	Environment string
	JWTSecret   string
	TokenTTL    time.Duration

	// FirstPartyDevID identifies the platform's own dev account. Privileged
	// operations are restricted to requests signed by this dev.
	FirstPartyDevID int64
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// S3Config holds object storage settings for avatars and export archives
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// JobsConfig holds background job schedules (cron expressions)
type JobsConfig struct {
	SessionCleanupSchedule string
	ArchivePruneSchedule   string
	ArchiveRetentionDays   int
	ExportWorkers          int
}

// RateLimitConfig holds the token-bucket settings for credential endpoints
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool

	// Audit decision log (embedded sqlite, kept next to the process)
	AuditDBPath        string
	AuditRetentionDays int
}

// LoadConfig loads configuration from environment variables and, when
// APPMANTLE_CONFIG_FILE is set, overlays values from the YAML file.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("APPMANTLE_HOST", "0.0.0.0"),
			Port:            getEnv("APPMANTLE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("APPMANTLE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("APPMANTLE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("APPMANTLE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("APPMANTLE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("APPMANTLE_HEALTH_PORT", "9090"),
		},
		Auth:          loadAuthConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		S3:            loadS3Config(),
		Jobs:          loadJobsConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
		ConfigFile:    getEnv("APPMANTLE_CONFIG_FILE", ""),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to apply config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadAuthConfig() AuthConfig {
	env := getEnv("APPMANTLE_ENV", "development")
	defaultTTL := NonProductionTokenTTL
	if env == "production" {
		defaultTTL = ProductionTokenTTL
	}
	return AuthConfig{
		Environment:     env,
		JWTSecret:       getEnv("APPMANTLE_JWT_SECRET", ""),
		TokenTTL:        getEnvDuration("APPMANTLE_TOKEN_TTL", defaultTTL),
		FirstPartyDevID: getEnvInt64("APPMANTLE_FIRST_PARTY_DEV_ID", 0),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("APPMANTLE_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("APPMANTLE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("APPMANTLE_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("APPMANTLE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("APPMANTLE_REDIS_URL", ""),
		Password: getEnv("APPMANTLE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("APPMANTLE_REDIS_DB", 0),
		PoolSize: getEnvInt("APPMANTLE_REDIS_POOL_SIZE", 10),
	}
}

func loadS3Config() S3Config {
	return S3Config{
		Endpoint:     getEnv("APPMANTLE_S3_ENDPOINT", ""),
		Region:       getEnv("APPMANTLE_S3_REGION", "us-east-1"),
		Bucket:       getEnv("APPMANTLE_S3_BUCKET", ""),
		AccessKey:    getEnv("APPMANTLE_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("APPMANTLE_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("APPMANTLE_S3_USE_PATH_STYLE", false),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		SessionCleanupSchedule: getEnv("APPMANTLE_SESSION_CLEANUP_SCHEDULE", "@hourly"),
		ArchivePruneSchedule:   getEnv("APPMANTLE_ARCHIVE_PRUNE_SCHEDULE", "@daily"),
		ArchiveRetentionDays:   getEnvInt("APPMANTLE_ARCHIVE_RETENTION_DAYS", 7),
		ExportWorkers:          getEnvInt("APPMANTLE_EXPORT_WORKERS", 2),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("APPMANTLE_RATE_LIMIT_ENABLED", true),
		RequestsPerSecond: getEnvFloat("APPMANTLE_RATE_LIMIT_RPS", 5),
		Burst:             getEnvInt("APPMANTLE_RATE_LIMIT_BURST", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           ParseLogLevel(getEnv("APPMANTLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("APPMANTLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("APPMANTLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("APPMANTLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("APPMANTLE_OTEL_SERVICE_NAME", "appmantle-api"),
		OTelServiceVersion: getEnv("APPMANTLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("APPMANTLE_OTEL_INSECURE", true),
		AuditDBPath:        getEnv("APPMANTLE_AUDIT_DB", "appmantle-audit.db"),
		AuditRetentionDays: getEnvInt("APPMANTLE_AUDIT_RETENTION_DAYS", 90),
	}
}

// FileOverlay is the YAML overlay shape. Only operational knobs belong
// here; secrets stay in the environment.
type FileOverlay struct {
	LogLevel          string   `yaml:"log_level"`
	MetricsEnabled    *bool    `yaml:"metrics_enabled"`
	RateLimitEnabled  *bool    `yaml:"rate_limit_enabled"`
	RateLimitRPS      *float64 `yaml:"rate_limit_rps"`
	SessionCleanup    string   `yaml:"session_cleanup_schedule"`
	ArchivePrune      string   `yaml:"archive_prune_schedule"`
	ArchiveRetention  *int     `yaml:"archive_retention_days"`
}

// applyFile overlays the YAML file on top of the env-derived config.
func (c *Config) applyFile(path string) error {
	overlay, err := ReadOverlay(path)
	if err != nil {
		return err
	}
	if overlay.LogLevel != "" {
		c.Observability.LogLevel = ParseLogLevel(overlay.LogLevel)
	}
	if overlay.MetricsEnabled != nil {
		c.Observability.MetricsEnabled = *overlay.MetricsEnabled
	}
	if overlay.RateLimitEnabled != nil {
		c.RateLimit.Enabled = *overlay.RateLimitEnabled
	}
	if overlay.RateLimitRPS != nil {
		c.RateLimit.RequestsPerSecond = *overlay.RateLimitRPS
	}
	if overlay.SessionCleanup != "" {
		c.Jobs.SessionCleanupSchedule = overlay.SessionCleanup
	}
	if overlay.ArchivePrune != "" {
		c.Jobs.ArchivePruneSchedule = overlay.ArchivePrune
	}
	if overlay.ArchiveRetention != nil {
		c.Jobs.ArchiveRetentionDays = *overlay.ArchiveRetention
	}
	return nil
}

// ReadOverlay parses a YAML overlay file.
func ReadOverlay(path string) (*FileOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	overlay := &FileOverlay{}
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return overlay, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.FirstPartyDevID <= 0 {
		return fmt.Errorf("first-party dev ID is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit RPS must be positive when rate limiting is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
