package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration. It is read from an optional YAML file
// (AUTHGATE_CONFIG) and AUTHGATE_* environment variables, e.g.
// AUTHGATE_DATABASE_DSN or AUTHGATE_PROVIDERS_GITHUB_CLIENT_ID.
type Config struct {
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	// Public URL of this server, used in confirmation links
	BaseURL string `mapstructure:"base_url"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	Database struct {
		Driver string `mapstructure:"driver"` // postgres or sqlite
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	// Redis is optional. When Addr is empty challenges live in the
	// database and sessions in memory.
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Session struct {
		Lifetime   time.Duration `mapstructure:"lifetime"`
		CookieName string        `mapstructure:"cookie_name"`
		Secure     bool          `mapstructure:"secure"`
	} `mapstructure:"session"`

	Auth struct {
		StateSecret     string        `mapstructure:"state_secret"`
		Hasher          string        `mapstructure:"hasher"` // argon2 or bcrypt
		ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
		EmailTimeout    time.Duration `mapstructure:"email_timeout"`
	} `mapstructure:"auth"`

	// SMTP is optional. Without an address emails are logged.
	SMTP struct {
		Addr     string `mapstructure:"addr"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`

	Providers struct {
		Github ProviderConfig `mapstructure:"github"`
		Google ProviderConfig `mapstructure:"google"`
	} `mapstructure:"providers"`
}

type ProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
}

func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

var defaults = map[string]any{
	"http.addr":                      ":8080",
	"http.shutdown_timeout":          10 * time.Second,
	"base_url":                       "http://localhost:8080",
	"log.level":                      "info",
	"log.development":                false,
	"database.driver":                "postgres",
	"database.dsn":                   "",
	"redis.addr":                     "",
	"redis.username":                 "",
	"redis.password":                 "",
	"redis.db":                       0,
	"session.lifetime":               24 * time.Hour,
	"session.cookie_name":            "authgate_session",
	"session.secure":                 true,
	"auth.state_secret":              "",
	"auth.hasher":                    "argon2",
	"auth.provider_timeout":          10 * time.Second,
	"auth.email_timeout":             10 * time.Second,
	"smtp.addr":                      "",
	"smtp.username":                  "",
	"smtp.password":                  "",
	"smtp.from":                      "",
	"providers.github.client_id":     "",
	"providers.github.client_secret": "",
	"providers.github.callback_url":  "",
	"providers.google.client_id":     "",
	"providers.google.client_secret": "",
	"providers.google.callback_url":  "",
}

// LoadConfig reads the config file at path (if any) and the environment
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("AUTHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func configPath() string {
	return os.Getenv("AUTHGATE_CONFIG")
}

// Validate checks the configuration is complete
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if len(c.Auth.StateSecret) < 32 {
		errs = append(errs, errors.New("auth.state_secret must be at least 32 characters"))
	}
	switch c.Auth.Hasher {
	case "argon2", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("unsupported hasher %q", c.Auth.Hasher))
	}
	if c.SMTP.Addr != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp.from is required with smtp.addr"))
	}
	return errors.Join(errs...)
}
