package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SyncConfig struct {
	// Remote store URL. Empty disables background sync.
	Remote string `mapstructure:"remote"`
	// Interval between sync rounds in seconds.
	Interval uint `mapstructure:"interval"`
}

type Config struct {
	// Secret key for signing invitation link tokens. Must be set in production.
	Secret string `mapstructure:"secret"`

	// Human readable lock name, shown in invitations.
	LockName string `mapstructure:"lock_name"`

	// IANA time zone the lock evaluates schedules in.
	Timezone string `mapstructure:"timezone"`

	// Freshness window for authorization headers, in seconds.
	AuthWindow uint `mapstructure:"auth_window"`

	// TTL for invitation link tokens in seconds.
	InvitationTTL uint `mapstructure:"invitation_ttl"`

	ReplayStore string `mapstructure:"replay_store"`
	LogLevel    string `mapstructure:"log_level"`

	Listen  string `mapstructure:"listen"`
	BaseURL string `mapstructure:"base_url"` // Base URL confirmation links point at, e.g. https://example.com/

	Storage Storage `mapstructure:"storage"`

	Sync SyncConfig `mapstructure:"sync"`

	// Invitation email delivery.
	Email EmailConfig `mapstructure:"email"`
}

// Window returns the authorization freshness window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.AuthWindow) * time.Second
}

// SyncInterval returns the pause between sync rounds as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Second
}

// Location resolves the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("invalid timezone, falling back to UTC", "timezone", c.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

// Check if running in Docker container by checking for the presence of /.dockerenv file
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getConfigPath() string {
	if runningInDocker() {
		return "/app/instance"
	}
	return "./instance"
}

// normalizeSQLitePath anchors a relative database file inside the
// instance folder. Empty, in-memory and absolute paths pass through
// untouched.
func normalizeSQLitePath(path string) string {
	if path == "" || path == ":memory:" || os.IsPathSeparator(path[0]) {
		return path
	}
	return fmt.Sprintf("%s/%s", getConfigPath(), path)
}

// LoadConfig reads configuration from environment variables and returns a Config struct.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")
	v.SetEnvPrefix("")

	if len(configFile) > 0 {
		for _, path := range configFile {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	// Load configuration from environment variables
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	if _, err := time.LoadLocation(cfg.Timezone); cfg.Timezone != "" && err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %v", cfg.Timezone, err)
	}

	// Convert relative sqlite path to absolute instance folder
	if cfg.Storage.SQLite != nil {
		cfg.Storage.SQLite.Path = normalizeSQLitePath(cfg.Storage.SQLite.Path)
	}

	// Warn if secret is missing - this is a critical security setting for production
	if cfg.Secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("SECRET configuration variable is required in production")
		} else {
			slog.Warn("Secret is not set. Do not use in production.")
		}
	}

	return &cfg, nil
}
