// Package config loads the server configuration from an embedded default, an
// optional TOML file, a .env file and HUDDLE_* environment variables, in
// increasing order of precedence.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed huddle.toml
var defaultConfigFile []byte

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Requests RequestsConfig `mapstructure:"requests"`
	Messages MessagesConfig `mapstructure:"messages"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Email    EmailConfig    `mapstructure:"email"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Secret      string        `mapstructure:"secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type RequestsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type MessagesConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultFile is where the config lives unless --config says otherwise.
func DefaultFile() (string, error) {
	return xdg.ConfigFile("huddle/huddle.toml")
}

// Load reads the configuration. An empty file means defaults plus the
// environment. A file that does not exist yet is created from the defaults.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(defaultConfigFile)); err != nil {
		return nil, fmt.Errorf("error reading default embedded config: %w", err)
	}

	if file != "" {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			slog.Info("writing new config file", "file", file)
			if err := os.WriteFile(file, defaultConfigFile, 0o600); err != nil {
				return nil, fmt.Errorf("error writing default config: %w", err)
			}
		} else {
			v.SetConfigFile(file)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", file, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret must be set")
	}
	if c.Messages.DefaultLimit <= 0 || c.Messages.MaxLimit < c.Messages.DefaultLimit {
		return fmt.Errorf("messages limits are inconsistent: default %d, max %d",
			c.Messages.DefaultLimit, c.Messages.MaxLimit)
	}
	return nil
}

// NewLogger returns a text logger at the given level, defaulting to info.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
