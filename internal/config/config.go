package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageDriverConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Monitoring MonitoringConfig
	Sharing    SharingConfig
	RateLimit  RateLimitConfig
	Azure      AzureConfig
	Logging    LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// StorageDriverConfig selects where monitoring data lives: "postgres" or "memory"
type StorageDriverConfig struct {
	Driver string
}

// RedisConfig holds the coordination store. An empty URL keeps locks,
// alert suppression and rate limits in process.
type RedisConfig struct {
	URL string
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// MonitoringConfig tunes ingestion, alerting and notification dispatch
type MonitoringConfig struct {
	DefaultQueryLimit  int
	MaxQueryLimit      int
	DefaultThresholds  bool
	DedupWindow        time.Duration
	SessionLockTTL     time.Duration
	DispatchQueueSize  int
	DispatchWorkers    int
	DispatchRatePerMin int
	InboxCapacity      int
}

// SharingConfig tunes provider data shares
type SharingConfig struct {
	DefaultDurationDays int
	MaxDurationDays     int
	EncryptionKey       string
}

// RateLimitConfig limits API requests per caller
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// AzureConfig holds Azure service configuration
type AzureConfig struct {
	Storage StorageConfig
}

// StorageConfig holds Azure Blob Storage configuration
type StorageConfig struct {
	AccountName      string
	AccountKey       string
	ConnectionString string
	ReportContainer  string
}

// Enabled reports whether any blob storage credentials are configured
func (s StorageConfig) Enabled() bool {
	return s.ConnectionString != "" || (s.AccountName != "" && s.AccountKey != "")
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// defaults applies when neither the config file nor the environment sets a key
var defaults = map[string]any{
	"server.port":            "8080",
	"server.environment":     "development",
	"server.shutdowntimeout": 30 * time.Second,
	"server.allowedorigins":  []string{},

	"database.maxconns":        25,
	"database.minconns":        2,
	"database.connmaxlifetime": 5 * time.Minute,

	"storage.driver": "postgres",
	"auth.issuer":    "health-monitoring",

	"monitoring.defaultquerylimit":  100,
	"monitoring.maxquerylimit":      1000,
	"monitoring.defaultthresholds":  false,
	"monitoring.dedupwindow":        15 * time.Minute,
	"monitoring.sessionlockttl":     5 * time.Second,
	"monitoring.dispatchqueuesize":  1024,
	"monitoring.dispatchworkers":    4,
	"monitoring.dispatchratepermin": 30,
	"monitoring.inboxcapacity":      200,

	"sharing.defaultdurationdays": 30,
	"sharing.maxdurationdays":     365,

	"ratelimit.requests": 120,
	"ratelimit.window":   time.Minute,

	"azure.storage.reportcontainer": "session-reports",

	"logging.level":  "info",
	"logging.format": "json",
}

// envAliases maps config keys to the conventional variable names deployments set.
// Every key can also be set as its upper-cased path, e.g. MONITORING_DISPATCHWORKERS.
var envAliases = map[string][]string{
	"server.port":                    {"PORT"},
	"server.environment":             {"ENV", "ENVIRONMENT"},
	"database.url":                   {"DATABASE_URL"},
	"storage.driver":                 {"STORAGE_DRIVER"},
	"redis.url":                      {"REDIS_URL"},
	"auth.jwtsecret":                 {"JWT_SECRET"},
	"auth.issuer":                    {"JWT_ISSUER"},
	"monitoring.dedupwindow":         {"ALERT_DEDUP_WINDOW"},
	"monitoring.defaultthresholds":   {"DEFAULT_THRESHOLDS"},
	"sharing.encryptionkey":          {"SHARE_ENCRYPTION_KEY"},
	"azure.storage.accountname":      {"AZURE_STORAGE_ACCOUNT_NAME"},
	"azure.storage.accountkey":       {"AZURE_STORAGE_ACCOUNT_KEY"},
	"azure.storage.connectionstring": {"AZURE_STORAGE_CONNECTION_STRING"},
	"azure.storage.reportcontainer":  {"AZURE_STORAGE_REPORT_CONTAINER"},
	"logging.level":                  {"LOG_LEVEL"},
	"logging.format":                 {"LOG_FORMAT"},
}

// Load layers defaults, the optional YAML file at configFile and the environment,
// then validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports every inconsistent setting at once
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Storage.Driver {
	case "postgres":
		check(c.Database.URL != "", "database.url is required for the postgres storage driver")
	case "memory":
	default:
		check(false, "storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}

	check(c.Server.Environment != "production" || c.Auth.JWTSecret != "",
		"auth.jwtsecret is required in production")

	m := c.Monitoring
	check(m.DefaultQueryLimit > 0 && m.DefaultQueryLimit <= m.MaxQueryLimit,
		"monitoring query limits must satisfy 0 < default <= max, got %d and %d", m.DefaultQueryLimit, m.MaxQueryLimit)
	check(m.DedupWindow >= 0, "monitoring.dedupwindow must not be negative")
	check(m.DispatchQueueSize > 0 && m.DispatchWorkers > 0,
		"monitoring dispatch queue size and workers must be positive")
	check(m.DispatchRatePerMin >= 0, "monitoring.dispatchratepermin must not be negative")

	check(c.Sharing.DefaultDurationDays > 0 && c.Sharing.DefaultDurationDays <= c.Sharing.MaxDurationDays,
		"sharing durations must satisfy 0 < default <= max, got %d and %d",
		c.Sharing.DefaultDurationDays, c.Sharing.MaxDurationDays)

	check(c.RateLimit.Requests >= 0, "ratelimit.requests must not be negative")
	check(c.RateLimit.Requests == 0 || c.RateLimit.Window > 0,
		"ratelimit.window must be positive when ratelimit.requests is set")

	az := c.Azure.Storage
	check(az.AccountName == "" || az.AccountKey != "" || az.ConnectionString != "",
		"azure.storage.accountkey or a connection string is required with an account name")

	return errors.Join(errs...)
}
