package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the explicit connection configuration used to open the target
// database. SQLite-only settings are ignored for other drivers.
type Config struct {
	// Driver is the database/sql driver name (sqlite, pgx, postgres, mysql)
	Driver string

	// DSN is the driver-specific data source name
	DSN string

	// BusyTimeout sets how long SQLite waits for database locks
	BusyTimeout time.Duration

	// EnableForeignKeys enables SQLite foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the SQLite synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	// MaxOpenConns sets the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum lifetime of connections
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a configuration with sensible defaults for driver.
func DefaultConfig(driver, dsn string) Config {
	cfg := Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
	if isSQLite(driver) {
		cfg.BusyTimeout = 30 * time.Second
		cfg.EnableForeignKeys = true
		cfg.JournalMode = "WAL"
		cfg.Synchronous = "NORMAL"
	}
	return cfg
}

// SQLiteTestConfig returns a SQLite configuration for temporary file-based testing
func SQLiteTestConfig(path string) Config {
	return Config{
		Driver:            "sqlite",
		DSN:               path,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
		MaxOpenConns:      1,
		MaxIdleConns:      1,
		ConnMaxLifetime:   time.Minute,
	}
}

// Validate checks the configuration without touching the database.
func (c Config) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("Driver cannot be empty")
	}
	if _, err := DialectFor(c.Driver); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if c.JournalMode != "" && !validJournalModes[c.JournalMode] {
		return fmt.Errorf("invalid journal mode: %s", c.JournalMode)
	}

	validSyncModes := map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
	if c.Synchronous != "" && !validSyncModes[c.Synchronous] {
		return fmt.Errorf("invalid synchronous mode: %s", c.Synchronous)
	}

	if c.MaxOpenConns < 0 {
		return fmt.Errorf("MaxOpenConns cannot be negative")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("ConnMaxLifetime cannot be negative")
	}
	return nil
}

// Open validates cfg, opens the database, applies pool and SQLite settings
// and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if isSQLite(cfg.Driver) {
		if err := createSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	dsn := cfg.DSN
	if isSQLite(cfg.Driver) {
		dsn = sqliteDSN(cfg)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	return db, nil
}

// sqliteDSN returns cfg.DSN as a "file:" URI carrying the PRAGMA settings
// as _pragma parameters, so that every pooled connection applies them.
func sqliteDSN(cfg Config) string {
	var pragmas []string
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, "journal_mode("+cfg.JournalMode+")")
	}
	if cfg.Synchronous != "" {
		pragmas = append(pragmas, "synchronous("+cfg.Synchronous+")")
	}
	if cfg.EnableForeignKeys {
		pragmas = append(pragmas, "foreign_keys(1)")
	}

	dsn := cfg.DSN
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	for _, pragma := range pragmas {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=" + url.QueryEscape(pragma)
	}
	return dsn
}

// createSQLiteDir creates the parent directory of a file-backed SQLite DSN.
func createSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(dsn, "file::memory:") {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

func isSQLite(driver string) bool {
	return driver == "sqlite"
}
