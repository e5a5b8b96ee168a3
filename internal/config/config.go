// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

// Package config loads collegemedia configuration.
//
// Values are layered, later sources winning: built-in defaults, the YAML
// config file, command-line flags, then DATABASE_URL and JWT_SECRET from the
// environment for keys still empty.
package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/collegemedia/collegemedia/internal/auth"
	"github.com/collegemedia/collegemedia/internal/xdg"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Reset notifier kinds.
const (
	NotifierLog  = "log"
	NotifierAMQP = "amqp"
)

// DevJWTSecret signs tokens outside production when no secret is configured.
const DevJWTSecret = "college_media_secret_key"

// Config is the full application configuration.
type Config struct {
	Env         string         `koanf:"env"`
	LogFormat   string         `koanf:"log_format"`
	LogLevel    string         `koanf:"log_level"`
	MetricsAddr string         `koanf:"metrics_addr"`
	HTTP        HTTPConfig     `koanf:"http"`
	Database    DatabaseConfig `koanf:"database"`
	Auth        AuthConfig     `koanf:"auth"`
	Reset       ResetConfig    `koanf:"reset"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr           string        `koanf:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig configures the durable user store.
type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	Backend        string        `koanf:"backend"`
	ProbeInterval  time.Duration `koanf:"probe_interval"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
}

// AuthConfig configures hashing and token signing.
type AuthConfig struct {
	JWTSecret  string `koanf:"jwt_secret"`
	Issuer     string `koanf:"issuer"`
	BcryptCost int    `koanf:"bcrypt_cost"`
}

// ResetConfig configures delivery of password reset notices.
type ResetConfig struct {
	Notifier        string        `koanf:"notifier"`
	AMQPURL         string        `koanf:"amqp_url"`
	Queue           string        `koanf:"queue"`
	LinkBaseURL     string        `koanf:"link_base_url"`
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
}

// Defaults returns the built-in configuration as a nested key map.
func Defaults() map[string]any {
	return map[string]any{
		"env":          EnvDevelopment,
		"log_format":   "json",
		"log_level":    "info",
		"metrics_addr": "127.0.0.1:9100",
		"http": map[string]any{
			"addr":            ":5000",
			"request_timeout": "5s",
		},
		"database": map[string]any{
			"url":             "",
			"backend":         "auto",
			"probe_interval":  "5s",
			"connect_timeout": "5s",
			"connect_retries": 3,
			"auto_migrate":    true,
		},
		"auth": map[string]any{
			"jwt_secret":  "",
			"issuer":      "collegemedia",
			"bcrypt_cost": 10,
		},
		"reset": map[string]any{
			"notifier":         NotifierLog,
			"amqp_url":         "",
			"queue":            "password_reset",
			"link_base_url":    "http://localhost:5173/reset-password",
			"delivery_timeout": "10s",
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"env":              "env",
	"log-format":       "log_format",
	"log-level":        "log_level",
	"metrics-addr":     "metrics_addr",
	"http-addr":        "http.addr",
	"database-url":     "database.url",
	"database-backend": "database.backend",
	"reset-notifier":   "reset.notifier",
}

// RegisterFlags adds the overridable config flags to fs. Defaults are left
// empty so unset flags never shadow the file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env", "", "environment (development, production, test)")
	fs.String("log-format", "", "log format (json or text)")
	fs.String("log-level", "", "minimum log level")
	fs.String("metrics-addr", "", "metrics/health listen address (empty value in config disables)")
	fs.String("http-addr", "", "API listen address")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("database-backend", "", "user store backend (auto, postgres or memory)")
	fs.String("reset-notifier", "", "reset notice delivery (log or amqp)")
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is an explicit config file. When empty the XDG default is used
	// if it exists.
	Path string
	// Flags, if set, supplies command-line overrides. Only changed flags apply.
	Flags *pflag.FlagSet
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds a Config from all sources. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	path := opts.Path
	if path == "" {
		if p, err := xdg.ConfigFile(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = getenv("DATABASE_URL")
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = getenv("JWT_SECRET")
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(key string, value any, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf(format, args...)
	}

	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return invalid("env", c.Env, "env must be development, production or test, got %q", c.Env)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return invalid("log_format", c.LogFormat, "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", c.HTTP.Addr, "http.addr is required")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return invalid("http.request_timeout", c.HTTP.RequestTimeout, "http.request_timeout must be positive")
	}

	switch c.Database.Backend {
	case "auto", "memory":
	case "postgres":
		if c.Database.URL == "" {
			return invalid("database.url", "", "database.url (or DATABASE_URL) is required for the postgres backend")
		}
	default:
		return invalid("database.backend", c.Database.Backend,
			"database.backend must be auto, postgres or memory, got %q", c.Database.Backend)
	}
	if c.Database.ProbeInterval <= 0 {
		return invalid("database.probe_interval", c.Database.ProbeInterval, "database.probe_interval must be positive")
	}
	if c.Database.ConnectTimeout <= 0 {
		return invalid("database.connect_timeout", c.Database.ConnectTimeout, "database.connect_timeout must be positive")
	}

	if c.Env == EnvProduction && c.Auth.JWTSecret == "" {
		return invalid("auth.jwt_secret", "", "auth.jwt_secret (or JWT_SECRET) is required in production")
	}
	// Cheaper hashes are only for test runs.
	minCost := auth.DefaultBcryptCost
	if c.Env == EnvTest {
		minCost = bcrypt.MinCost
	}
	if c.Auth.BcryptCost < minCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return invalid("auth.bcrypt_cost", c.Auth.BcryptCost,
			"auth.bcrypt_cost must be between %d and %d, got %d", minCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}

	switch c.Reset.Notifier {
	case NotifierLog:
	case NotifierAMQP:
		if c.Reset.AMQPURL == "" {
			return invalid("reset.amqp_url", "", "reset.amqp_url is required for the amqp notifier")
		}
		if c.Reset.Queue == "" {
			return invalid("reset.queue", "", "reset.queue is required for the amqp notifier")
		}
	default:
		return invalid("reset.notifier", c.Reset.Notifier, "reset.notifier must be log or amqp, got %q", c.Reset.Notifier)
	}
	if c.Reset.DeliveryTimeout <= 0 {
		return invalid("reset.delivery_timeout", c.Reset.DeliveryTimeout, "reset.delivery_timeout must be positive")
	}
	return nil
}

// SigningSecret returns the JWT secret, substituting DevJWTSecret with a
// warning when none is configured. Validate rejects that case in production.
func (c *Config) SigningSecret(logger *slog.Logger) []byte {
	if c.Auth.JWTSecret != "" {
		return []byte(c.Auth.JWTSecret)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("no JWT secret configured, using the development secret", "env", c.Env)
	return []byte(DevJWTSecret)
}
