// Package config loads service configuration from environment variables.
// Every setting has a default except secrets; Load validates the result so
// that misconfiguration fails at startup.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/rosterimport/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"6m"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds the wait for in-flight commits on shutdown.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to every route except commit, which runs
	// under IMPORT_TIMEOUT.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required unless InMemory.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// InMemory swaps PostgreSQL for the in-process store (development only).
	InMemory bool `env:"DB_IN_MEMORY" default:"false"`

	// AutoMigrate applies the embedded schema at startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"false"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds roster import limits.
type ImportConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 5 MiB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"5242880"`

	// PreviewRowLimit is how many rows preview validates (default: 1000)
	PreviewRowLimit int `env:"IMPORT_PREVIEW_ROW_LIMIT" default:"1000"`

	// PreviewSampleSize is how many normalized rows preview returns (default: 10)
	PreviewSampleSize int `env:"IMPORT_PREVIEW_SAMPLE_SIZE" default:"10"`

	// MaxConcurrent is the number of commits allowed to write at once (default: 3)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long a commit waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single commit (default: 5m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"5m"`

	// CreateAccounts creates a portal account per imported student.
	CreateAccounts bool `env:"IMPORT_CREATE_ACCOUNTS" default:"false"`

	// PasswordCost is the bcrypt cost for initial account passwords.
	PasswordCost int `env:"IMPORT_PASSWORD_COST" default:"10"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for preview and commit (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 tokens (required, min 32 bytes)
	JWTSecret string `env:"JWT_SECRET" required:"true"`

	JWTIssuer string `env:"JWT_ISSUER" default:"rosterimport"`

	// TokenTTL is the lifetime of tokens minted by importctl token.
	TokenTTL time.Duration `env:"JWT_TOKEN_TTL" default:"12h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServiceOptions maps the import limits onto core.Options.
func (c *ImportConfig) ServiceOptions() core.Options {
	return core.Options{
		MaxFileSize:       c.MaxFileSize,
		PreviewRowLimit:   c.PreviewRowLimit,
		PreviewSampleSize: c.PreviewSampleSize,
		ImportTimeout:     c.Timeout,
		MaxConcurrent:     c.MaxConcurrent,
		MaxWait:           c.MaxWaitTime,
	}
}
