// Package config provides configuration management for agentmux.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentmux.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Launch   LaunchConfig   `mapstructure:"launch"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Lock     LockConfig     `mapstructure:"lock"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// The default driver is sqlite with a single local file; postgres is
// selected by setting driver=postgres and the connection fields.
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"`        // sqlite, postgres
	Path          string `mapstructure:"path"`          // sqlite database file
	BusyTimeoutMs int    `mapstructure:"busyTimeoutMs"` // sqlite lock wait budget
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"dbName"`
	SSLMode       string `mapstructure:"sslMode"`
	MaxConns      int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// LaunchConfig holds launch queue configuration.
type LaunchConfig struct {
	QueueSize int `mapstructure:"queueSize"` // max pending launches
}

// RunnerConfig holds agent runner configuration shared across variants.
type RunnerConfig struct {
	WorkDir          string `mapstructure:"workDir"`          // working directory for subprocess runners
	StopGraceSeconds int    `mapstructure:"stopGraceSeconds"` // SIGTERM grace before SIGKILL
	SDKBaseURL       string `mapstructure:"sdkBaseUrl"`       // default base URL for HTTP streaming runners
	SidecarURL       string `mapstructure:"sidecarUrl"`       // default base URL for SSE proxy runners
}

// LockConfig holds the single-instance process lock configuration.
type LockConfig struct {
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// StopGrace returns the runner stop grace period as a time.Duration.
func (r *RunnerConfig) StopGrace() time.Duration {
	return time.Duration(r.StopGraceSeconds) * time.Second
}

// PostgresDSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" in Kubernetes or production environments, "text" for terminals.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTMUX_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - local sqlite file
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./agentmux.db")
	v.SetDefault("database.busyTimeoutMs", 5000)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentmux")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentmux")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentmux")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Launch queue defaults
	v.SetDefault("launch.queueSize", 100)

	// Runner defaults
	v.SetDefault("runner.workDir", ".")
	v.SetDefault("runner.stopGraceSeconds", 5)
	v.SetDefault("runner.sdkBaseUrl", "")
	v.SetDefault("runner.sidecarUrl", "")

	// Process lock defaults
	v.SetDefault("lock.path", "./agentmux.pid")
	v.SetDefault("lock.disabled", false)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTMUX_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentmux/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for camelCase config keys, which AutomaticEnv cannot
	// derive, plus the bare PORT knob honored for host compatibility.
	_ = v.BindEnv("server.port", "AGENTMUX_SERVER_PORT", "PORT")
	_ = v.BindEnv("server.readTimeout", "AGENTMUX_SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "AGENTMUX_SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("database.busyTimeoutMs", "AGENTMUX_DATABASE_BUSY_TIMEOUT_MS")
	_ = v.BindEnv("database.dbName", "AGENTMUX_DATABASE_DB_NAME")
	_ = v.BindEnv("database.sslMode", "AGENTMUX_DATABASE_SSL_MODE")
	_ = v.BindEnv("database.maxConns", "AGENTMUX_DATABASE_MAX_CONNS")
	_ = v.BindEnv("nats.clientId", "AGENTMUX_NATS_CLIENT_ID")
	_ = v.BindEnv("nats.maxReconnects", "AGENTMUX_NATS_MAX_RECONNECTS")
	_ = v.BindEnv("logging.outputPath", "AGENTMUX_LOGGING_OUTPUT_PATH")
	_ = v.BindEnv("launch.queueSize", "AGENTMUX_LAUNCH_QUEUE_SIZE")
	_ = v.BindEnv("runner.workDir", "AGENTMUX_RUNNER_WORK_DIR")
	_ = v.BindEnv("runner.stopGraceSeconds", "AGENTMUX_RUNNER_STOP_GRACE_SECONDS")
	_ = v.BindEnv("runner.sdkBaseUrl", "AGENTMUX_RUNNER_SDK_BASE_URL")
	_ = v.BindEnv("runner.sidecarUrl", "AGENTMUX_RUNNER_SIDECAR_URL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentmux/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	// NATS validation - optional (uses in-memory event bus if not set)

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Launch.QueueSize <= 0 {
		errs = append(errs, "launch.queueSize must be positive")
	}
	if cfg.Runner.StopGraceSeconds <= 0 {
		errs = append(errs, "runner.stopGraceSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
