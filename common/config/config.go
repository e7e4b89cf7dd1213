package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Content   ContentConfig   `yaml:"content"`
	Store     StoreConfig     `yaml:"store"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// ContentConfig holds the local content directory settings
type ContentConfig struct {
	// Dir is the content root; empty disables persisting artifacts
	Dir string `yaml:"dir"`
}

// StoreConfig holds remote artifact store settings
type StoreConfig struct {
	BaseURL       string        `yaml:"base_url"`
	HeaderTimeout time.Duration `yaml:"header_timeout"`
	UserAgent     string        `yaml:"user_agent"`
}

// TransferConfig holds download manager settings
type TransferConfig struct {
	// GraceWindow is how long a finished transfer stays queryable
	GraceWindow time.Duration `yaml:"grace_window"`

	// ChunkSize is the read size, and so the cancellation polling granularity
	ChunkSize int64 `yaml:"-"`
}

// RedisConfig holds Redis settings for transfer event publishing
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool `yaml:"enable_pprof"`
	PprofPort   int  `yaml:"pprof_port"`
}

// yamlTransferConfig is used for YAML unmarshaling with a human-readable chunk size.
type yamlTransferConfig struct {
	ChunkSize string `yaml:"chunk_size"`
}

// Default returns the configuration used when nothing is overridden
func Default(serviceName string) *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        3000,
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "text",
		},
		Store: StoreConfig{
			BaseURL:       "https://buildomat.eng.oxide.computer/public/file/oxidecomputer/omicron/rot-all",
			HeaderTimeout: 30 * time.Second,
			UserAgent:     "omicron-tuf-browser",
		},
		Transfer: TransferConfig{
			GraceWindow: 60 * time.Second,
			ChunkSize:   32 * 1024,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Telemetry: TelemetryConfig{
			PprofPort: 6060,
		},
	}
}

// Load loads configuration from an optional YAML file named by CONFIG_FILE,
// then from environment variables, which take precedence
func Load(serviceName string) (*Config, error) {
	cfg := Default(serviceName)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// LoadFile overlays values present in a YAML file onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Decode into c so keys absent from the file keep their current values
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	var transfer struct {
		Transfer yamlTransferConfig `yaml:"transfer"`
	}
	if err := yaml.Unmarshal(data, &transfer); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if transfer.Transfer.ChunkSize != "" {
		size, err := humanize.ParseBytes(transfer.Transfer.ChunkSize)
		if err != nil {
			return fmt.Errorf("parse transfer.chunk_size: %w", err)
		}
		c.Transfer.ChunkSize = int64(size)
	}

	return nil
}

// LoadEnv overlays environment variables onto c
func (c *Config) LoadEnv() error {
	c.Service.Port = getEnvInt("PORT", c.Service.Port)
	c.Service.Environment = getEnv("ENVIRONMENT", c.Service.Environment)
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)
	c.Service.LogFormat = getEnv("LOG_FORMAT", c.Service.LogFormat)

	c.Content.Dir = getEnv("DOWNLOAD_DIR", c.Content.Dir)

	c.Store.BaseURL = getEnv("ARTIFACT_BASE_URL", c.Store.BaseURL)
	c.Store.HeaderTimeout = getEnvDuration("ARTIFACT_HEADER_TIMEOUT", c.Store.HeaderTimeout)
	c.Store.UserAgent = getEnv("ARTIFACT_USER_AGENT", c.Store.UserAgent)

	c.Transfer.GraceWindow = getEnvDuration("TRANSFER_GRACE_WINDOW", c.Transfer.GraceWindow)
	if v := os.Getenv("TRANSFER_CHUNK_SIZE"); v != "" {
		size, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse TRANSFER_CHUNK_SIZE: %w", err)
		}
		c.Transfer.ChunkSize = int64(size)
	}

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Telemetry.EnablePprof = getEnvBool("ENABLE_PPROF", c.Telemetry.EnablePprof)
	c.Telemetry.PprofPort = getEnvInt("PPROF_PORT", c.Telemetry.PprofPort)

	return nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	u, err := url.Parse(c.Store.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid artifact base URL: %q", c.Store.BaseURL)
	}

	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer chunk size must be positive")
	}

	if c.Transfer.GraceWindow < 0 {
		return fmt.Errorf("transfer grace window must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required when redis is enabled")
	}

	return nil
}

// DownloadsEnabled reports whether a content directory is configured
func (c *Config) DownloadsEnabled() bool {
	return c.Content.Dir != ""
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
