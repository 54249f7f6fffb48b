// Package sqlstore persists records and schedule state through database/sql
// for the sqlite3 and mysql drivers. It mirrors pgstore's tables; filters and
// date ranges are evaluated in Go since the two dialects disagree on JSON
// operators.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Store implements core.BulkWriter, core.Fetcher and schedule.Store.
type Store struct {
	db     *sql.DB
	driver string
}

// Options tunes the connection pool. Zero values keep the driver defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects, pings and creates the tables.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	ddl, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", driver, err)
		}
	}
	return &Store{db: db, driver: driver}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS records (
			entity_type TEXT NOT NULL,
			record_key  TEXT NOT NULL,
			data        TEXT NOT NULL,
			created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (entity_type, record_key)
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_state (
			kind     TEXT NOT NULL,
			id       TEXT NOT NULL,
			position INTEGER NOT NULL,
			payload  TEXT NOT NULL,
			PRIMARY KEY (kind, id)
		)`,
	},
	DriverMySQL: {
		"CREATE TABLE IF NOT EXISTS `records` (" + `
			entity_type VARCHAR(64) NOT NULL,
			record_key  VARCHAR(255) NOT NULL,
			data        LONGTEXT NOT NULL,
			created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (entity_type, record_key)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		"CREATE TABLE IF NOT EXISTS `schedule_state` (" + `
			kind     VARCHAR(16) NOT NULL,
			id       VARCHAR(64) NOT NULL,
			position INT NOT NULL,
			payload  LONGTEXT NOT NULL,
			PRIMARY KEY (kind, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}
