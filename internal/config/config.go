// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Operation OperationConfig
	Schedule  ScheduleConfig
	Delivery  DeliveryConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres, sqlite3 or mysql (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string, or the file path for sqlite3 (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// OperationConfig holds import and export processing settings.
type OperationConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of operations running at once (default: 5)
	MaxConcurrent int `env:"OPERATION_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an operation slot (default: 30s)
	MaxWaitTime time.Duration `env:"OPERATION_MAX_WAIT_TIME" default:"30s"`

	// ChunkSize is the number of records per bulk write (default: 100)
	ChunkSize int `env:"IMPORT_CHUNK_SIZE" default:"100"`

	// PageSize is the number of records per export fetch (default: 1000)
	PageSize int `env:"EXPORT_PAGE_SIZE" default:"1000"`

	// Retention is how long an uncollected result stays queryable (default: 15m)
	Retention time.Duration `env:"OPERATION_RETENTION" default:"15m"`

	// MaxIssues caps the issue list kept per import (default: 1000)
	MaxIssues int `env:"IMPORT_MAX_ISSUES" default:"1000"`
}

// ScheduleConfig holds scheduled export settings.
type ScheduleConfig struct {
	// Enabled starts the schedule loop (default: true)
	Enabled bool `env:"SCHEDULE_ENABLED" default:"true"`

	// DefaultMaxRetries applies to configs that set no retry count (default: 3)
	DefaultMaxRetries int `env:"SCHEDULE_DEFAULT_MAX_RETRIES" default:"3"`

	// JobHistory is the number of finished jobs kept per config (default: 50)
	JobHistory int `env:"SCHEDULE_JOB_HISTORY" default:"50"`

	// BaseURL prefixes artifact download links in notifications
	BaseURL string `env:"PUBLIC_BASE_URL"`
}

// DeliveryConfig holds the delivery channel settings.
type DeliveryConfig struct {
	// SMTPHost enables email delivery when set
	SMTPHost string `env:"SMTP_HOST"`

	// SMTPPort is the SMTP server port (default: 587)
	SMTPPort int `env:"SMTP_PORT" default:"587"`

	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	// SMTPFrom is the sender address (default: exports@localhost)
	SMTPFrom string `env:"SMTP_FROM" default:"exports@localhost"`

	// WebhookTimeout bounds one webhook POST (default: 10s)
	WebhookTimeout time.Duration `env:"DELIVERY_WEBHOOK_TIMEOUT" default:"10s"`

	// StorageDir keeps artifacts for download (default: ./artifacts)
	StorageDir string `env:"DELIVERY_STORAGE_DIR" default:"./artifacts"`

	// S3Region enables s3:// storage locations when set
	S3Region string `env:"DELIVERY_S3_REGION" envAlt:"AWS_REGION"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
