package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds invoice store configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PortalConfig holds tax portal gateway configuration. Cookie values are
// session cookies the portal requires alongside the bearer token.
type PortalConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Cookie     string        `mapstructure:"cookie"`
	AuthCookie string        `mapstructure:"auth_cookie"`
	PageSize   int           `mapstructure:"page_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SyncConfig holds the pipeline's throttling knobs.
type SyncConfig struct {
	// DetailDelay is the proactive pause before every detail fetch,
	// independent of the reactive 429 backoff.
	DetailDelay time.Duration `mapstructure:"detail_delay"`
	// RetryBackoff is the fixed sleep after a 429 response.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// MaxRetries caps 429 retries before the run gives up on new calls.
	MaxRetries int `mapstructure:"max_retries"`
	// ReparseInterval is how often the background worker re-attempts
	// parsing of stored raw-fallback documents. Zero disables it.
	ReparseInterval time.Duration `mapstructure:"reparse_interval"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 5*time.Minute)

	viper.SetDefault("database.path", "data/invoices.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("portal.page_size", 50)
	viper.SetDefault("portal.timeout", 60*time.Second)

	viper.SetDefault("sync.detail_delay", 800*time.Millisecond)
	viper.SetDefault("sync.retry_backoff", 20*time.Second)
	viper.SetDefault("sync.max_retries", 5)
	viper.SetDefault("sync.reparse_interval", 30*time.Minute)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	viper.BindEnv("portal.base_url", "PORTAL_BASE_URL")
	viper.BindEnv("portal.cookie", "PORTAL_COOKIE")
	viper.BindEnv("portal.auth_cookie", "PORTAL_AUTH_COOKIE")
	viper.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if c.Portal.PageSize <= 0 {
		return fmt.Errorf("portal.page_size must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative")
	}
	return nil
}
