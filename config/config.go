// Package config loads the service configuration from a YAML file and
// ECOFY_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	auth "github.com/ecofy/ecofy-auth"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const minSigningKeyLength = 32

// Config holds the configuration of the ecofy-auth server.
type Config struct {
	Env      string         `yaml:"env"`
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServerConfig holds the HTTP listener options.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// AuthConfig holds token and credential options.
type AuthConfig struct {
	SigningKey          string        `yaml:"signing_key"`
	SigningMethod       string        `yaml:"signing_method"`
	Issuer              string        `yaml:"issuer"`
	Audience            []string      `yaml:"audience"`
	TokenTTL            time.Duration `yaml:"token_ttl"`
	AuthScheme          string        `yaml:"auth_scheme"`
	HashCost            int           `yaml:"hash_cost"`
	RegistrationStatus  string        `yaml:"registration_status"`
	SerializableTxLevel bool          `yaml:"serializable_tx"`
}

// AdminConfig seeds the bootstrap administrator when Email is set.
type AdminConfig struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

var _ auth.Config = (*Config)(nil)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Driver:  auth.DriverSQLite,
			DSN:     "file:ecofy.db?cache=shared&_pragma=foreign_keys(1)",
			Migrate: true,
		},
		Auth: AuthConfig{
			SigningMethod:       "HS256",
			Issuer:              "ecofy",
			TokenTTL:            24 * time.Hour,
			AuthScheme:          "Bearer",
			HashCost:            12,
			RegistrationStatus:  string(auth.StatusActive),
			SerializableTxLevel: true,
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "read config").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "parse config").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("ECOFY_ENV", &c.Env)
	str("ECOFY_LOG_LEVEL", &c.LogLevel)
	str("ECOFY_SERVER_ADDR", &c.Server.Addr)
	str("ECOFY_DATABASE_DRIVER", &c.Database.Driver)
	str("ECOFY_DATABASE_DSN", &c.Database.DSN)
	str("ECOFY_AUTH_SIGNING_KEY", &c.Auth.SigningKey)
	str("ECOFY_AUTH_SIGNING_METHOD", &c.Auth.SigningMethod)
	str("ECOFY_AUTH_ISSUER", &c.Auth.Issuer)
	str("ECOFY_AUTH_SCHEME", &c.Auth.AuthScheme)
	str("ECOFY_AUTH_REGISTRATION_STATUS", &c.Auth.RegistrationStatus)
	str("ECOFY_ADMIN_EMAIL", &c.Admin.Email)
	str("ECOFY_ADMIN_PASSWORD", &c.Admin.Password)

	if v, ok := lookup("ECOFY_AUTH_AUDIENCE"); ok && v != "" {
		c.Auth.Audience = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.Auth.Audience = append(c.Auth.Audience, a)
			}
		}
	}

	if v, ok := lookup("ECOFY_AUTH_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("ECOFY_AUTH_TOKEN_TTL", v, err)
		}
		c.Auth.TokenTTL = d
	}

	if v, ok := lookup("ECOFY_AUTH_HASH_COST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("ECOFY_AUTH_HASH_COST", v, err)
		}
		c.Auth.HashCost = n
	}

	if v, ok := lookup("ECOFY_DATABASE_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("ECOFY_DATABASE_MIGRATE", v, err)
		}
		c.Database.Migrate = b
	}

	return nil
}

func envError(key, value string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid environment value").
		WithMetadata(map[string]any{"key": key, "value": value})
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.Auth.SigningKey == "" {
		problems = append(problems, "auth.signing_key is required")
	} else if !c.IsDevelopment() && len(c.Auth.SigningKey) < minSigningKeyLength {
		problems = append(problems, fmt.Sprintf("auth.signing_key must be at least %d bytes", minSigningKeyLength))
	}
	if c.Auth.SigningMethod != "HS256" {
		problems = append(problems, "auth.signing_method must be HS256")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be positive")
	}
	if c.Auth.HashCost < bcrypt.MinCost || c.Auth.HashCost > bcrypt.MaxCost {
		problems = append(problems, fmt.Sprintf("auth.hash_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	switch auth.Status(c.Auth.RegistrationStatus) {
	case auth.StatusPending, auth.StatusActive:
	default:
		problems = append(problems, "auth.registration_status must be pending or active")
	}
	switch strings.ToLower(c.Database.Driver) {
	case auth.DriverSQLite, auth.DriverPostgres:
	default:
		problems = append(problems, "database.driver must be sqlite or postgres")
	}
	if c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required")
	}
	if c.Admin.Email != "" && c.Admin.Password == "" {
		problems = append(problems, "admin.password is required when admin.email is set")
	}

	if len(problems) > 0 {
		return goerrors.New("invalid configuration", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"problems": problems})
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || strings.EqualFold(c.Env, "development")
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) GetSigningKey() string              { return c.Auth.SigningKey }
func (c *Config) GetSigningMethod() string           { return c.Auth.SigningMethod }
func (c *Config) GetTokenExpiration() time.Duration  { return c.Auth.TokenTTL }
func (c *Config) GetIssuer() string                  { return c.Auth.Issuer }
func (c *Config) GetAudience() []string              { return c.Auth.Audience }
func (c *Config) GetAuthScheme() string              { return c.Auth.AuthScheme }
func (c *Config) GetHashCost() int                   { return c.Auth.HashCost }
func (c *Config) GetRegistrationStatus() auth.Status { return auth.Status(c.Auth.RegistrationStatus) }
