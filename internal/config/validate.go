package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

var (
	drivers    = []string{"postgres", "sqlite3", "mysql"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// problems collects validation failures as they are found.
type problems []string

func (p *problems) require(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func (p *problems) oneOf(name, value string, allowed []string) {
	p.require(slices.Contains(allowed, strings.ToLower(value)),
		"%s (%q) must be one of: %s", name, value, strings.Join(allowed, ", "))
}

func validPort(port int) bool { return port > 0 && port <= 65535 }

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.oneOf("DB_DRIVER", db.Driver, drivers)
	p.require(db.URL != "", "DATABASE_URL is required")
	p.require(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.require(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.require(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	p.require(validPort(srv.Port), "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.require(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.require(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	op := c.Operation
	p.require(op.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	p.require(op.MaxConcurrent > 0, "OPERATION_MAX_CONCURRENT must be positive")
	p.require(op.MaxWaitTime > 0, "OPERATION_MAX_WAIT_TIME must be positive")
	p.require(op.ChunkSize > 0, "IMPORT_CHUNK_SIZE must be positive")
	p.require(op.PageSize > 0, "EXPORT_PAGE_SIZE must be positive")
	p.require(op.Retention > 0, "OPERATION_RETENTION must be positive")

	p.require(c.Schedule.DefaultMaxRetries >= 0, "SCHEDULE_DEFAULT_MAX_RETRIES must be non-negative")
	p.require(c.Schedule.JobHistory > 0, "SCHEDULE_JOB_HISTORY must be positive")

	dl := c.Delivery
	p.require(dl.SMTPHost == "" || validPort(dl.SMTPPort), "SMTP_PORT (%d) must be 1-65535", dl.SMTPPort)
	p.require(dl.WebhookTimeout > 0, "DELIVERY_WEBHOOK_TIMEOUT must be positive")
	p.require(dl.StorageDir != "", "DELIVERY_STORAGE_DIR is required")

	if c.Rate.Enabled {
		p.require(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		p.require(c.Rate.ImportLimit > 0, "RATE_LIMIT_IMPORT must be positive when rate limiting is enabled")
	}

	p.require(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	p.oneOf("LOG_LEVEL", c.Logging.Level, logLevels)
	p.oneOf("LOG_FORMAT", c.Logging.Format, logFormats)

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// LogValue implements slog.LogValuer. Connection strings and credentials
// are masked.
func (c *Config) LogValue() slog.Value {
	const masked = "[MASKED]"
	return slog.GroupValue(
		slog.Group("server", "addr", c.Server.Addr()),
		slog.Group("database",
			"driver", c.Database.Driver,
			"url", masked,
			"max_conns", c.Database.MaxConns,
			"min_conns", c.Database.MinConns,
		),
		slog.Group("operation",
			"max_file_size", c.Operation.MaxFileSize,
			"max_concurrent", c.Operation.MaxConcurrent,
			"chunk_size", c.Operation.ChunkSize,
			"page_size", c.Operation.PageSize,
		),
		slog.Group("schedule",
			"enabled", c.Schedule.Enabled,
			"default_max_retries", c.Schedule.DefaultMaxRetries,
		),
		slog.Group("delivery",
			"smtp_host", c.Delivery.SMTPHost,
			"smtp_password", masked,
			"storage_dir", c.Delivery.StorageDir,
			"s3_region", c.Delivery.S3Region,
		),
		slog.Group("rate", "enabled", c.Rate.Enabled, "requests_per_minute", c.Rate.RequestsPerMinute),
		slog.Group("security", "require_api_key", c.Security.RequireAPIKey, "api_keys", len(c.Security.APIKeys)),
		slog.Group("logging", "level", c.Logging.Level, "format", c.Logging.Format),
	)
}
