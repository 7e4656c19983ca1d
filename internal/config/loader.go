package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/example/dbupdater/internal/database"
	"github.com/example/dbupdater/internal/ledger"
	"github.com/example/dbupdater/internal/logging"
	"github.com/example/dbupdater/internal/source"
)

// Config captures environment driven configuration values for dbupdater.
type Config struct {
	Driver      string
	DSN         string
	SourceMode  source.Mode
	SourcePath  string
	Table       string
	LockTimeout time.Duration
	LogLevel    slog.Level
	LogFormat   string
}

// DefaultSourcePath returns the default location of the update store for
// mode.
func DefaultSourcePath(mode source.Mode) string {
	switch mode {
	case source.ModeJSON:
		return "database/updates.json"
	case source.ModeYAML:
		return "database/updates.yaml"
	case source.ModeGo:
		return "database/updates.go"
	}
	return "database/updates"
}

// Load parses configuration values from the current process environment.
//
// Optional values fall back to defaults. Every missing or invalid variable is
// collected so that one error names all of them.
func Load() (Config, error) {
	cfg := Config{
		Driver:      "sqlite",
		SourceMode:  source.ModeDir,
		Table:       ledger.DefaultTable,
		LockTimeout: 30 * time.Second,
		LogLevel:    slog.LevelInfo,
		LogFormat:   logging.FormatJSON,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if driver := strings.TrimSpace(os.Getenv("DBUPDATER_DRIVER")); driver != "" {
		if _, err := database.DialectFor(driver); err != nil {
			invalid = append(invalid, "DBUPDATER_DRIVER")
		} else {
			cfg.Driver = driver
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("DBUPDATER_DSN")); dsn != "" {
		cfg.DSN = dsn
	} else if cfg.Driver == "sqlite" {
		cfg.DSN = "dbupdater.db"
	} else {
		missing = append(missing, "DBUPDATER_DSN")
	}

	if modeValue := strings.TrimSpace(os.Getenv("DBUPDATER_SOURCE_MODE")); modeValue != "" {
		mode, err := source.ParseMode(modeValue)
		if err != nil {
			invalid = append(invalid, "DBUPDATER_SOURCE_MODE")
		} else {
			cfg.SourceMode = mode
		}
	}

	if path := strings.TrimSpace(os.Getenv("DBUPDATER_SOURCE_PATH")); path != "" {
		cfg.SourcePath = path
	} else {
		cfg.SourcePath = DefaultSourcePath(cfg.SourceMode)
	}

	if table := strings.TrimSpace(os.Getenv("DBUPDATER_TABLE")); table != "" {
		if !ValidTableName(table) {
			invalid = append(invalid, "DBUPDATER_TABLE")
		} else {
			cfg.Table = table
		}
	}

	if timeoutValue := strings.TrimSpace(os.Getenv("DBUPDATER_LOCK_TIMEOUT")); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout < 0 {
			invalid = append(invalid, "DBUPDATER_LOCK_TIMEOUT")
		} else {
			cfg.LockTimeout = timeout
		}
	}

	if levelValue := strings.TrimSpace(os.Getenv("DBUPDATER_LOG_LEVEL")); levelValue != "" {
		level, err := logging.ParseLevel(levelValue)
		if err != nil {
			invalid = append(invalid, "DBUPDATER_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if format := strings.TrimSpace(os.Getenv("DBUPDATER_LOG_FORMAT")); format != "" {
		if !logging.ValidFormat(format) {
			invalid = append(invalid, "DBUPDATER_LOG_FORMAT")
		} else {
			cfg.LogFormat = strings.ToLower(format)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// ValidTableName reports whether name is a plain SQL identifier.
func ValidTableName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
