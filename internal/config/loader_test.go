package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/example/dbupdater/internal/source"
)

var allVariables = []string{
	"DBUPDATER_DRIVER",
	"DBUPDATER_DSN",
	"DBUPDATER_SOURCE_MODE",
	"DBUPDATER_SOURCE_PATH",
	"DBUPDATER_TABLE",
	"DBUPDATER_LOCK_TIMEOUT",
	"DBUPDATER_LOG_LEVEL",
	"DBUPDATER_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allVariables {
		t.Setenv(key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.Driver != "sqlite" || cfg.DSN != "dbupdater.db" {
			t.Fatalf("unexpected database defaults: %q %q", cfg.Driver, cfg.DSN)
		}
		if cfg.SourceMode != source.ModeDir || cfg.SourcePath != "database/updates" {
			t.Fatalf("unexpected source defaults: %q %q", cfg.SourceMode, cfg.SourcePath)
		}
		if cfg.Table != "database_updates" {
			t.Fatalf("unexpected default table: %q", cfg.Table)
		}
		if cfg.LockTimeout != 30*time.Second {
			t.Fatalf("unexpected default lock timeout: %v", cfg.LockTimeout)
		}
		if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
			t.Fatalf("unexpected log defaults: %v %q", cfg.LogLevel, cfg.LogFormat)
		}
	})

	t.Run("reads explicit values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DBUPDATER_DRIVER", "pgx")
		t.Setenv("DBUPDATER_DSN", "postgres://localhost/app")
		t.Setenv("DBUPDATER_SOURCE_MODE", "yml")
		t.Setenv("DBUPDATER_TABLE", "schema_updates")
		t.Setenv("DBUPDATER_LOCK_TIMEOUT", "2m")
		t.Setenv("DBUPDATER_LOG_LEVEL", "debug")
		t.Setenv("DBUPDATER_LOG_FORMAT", "TEXT")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Driver != "pgx" || cfg.DSN != "postgres://localhost/app" {
			t.Fatalf("unexpected database settings: %+v", cfg)
		}
		if cfg.SourceMode != source.ModeYAML || cfg.SourcePath != "database/updates.yaml" {
			t.Fatalf("unexpected source settings: %q %q", cfg.SourceMode, cfg.SourcePath)
		}
		if cfg.Table != "schema_updates" || cfg.LockTimeout != 2*time.Minute {
			t.Fatalf("unexpected table or timeout: %+v", cfg)
		}
		if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
			t.Fatalf("unexpected log settings: %v %q", cfg.LogLevel, cfg.LogFormat)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DBUPDATER_DRIVER", "mysql")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required environment variables are not set: DBUPDATER_DSN"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("collects every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DBUPDATER_DRIVER", "oracle")
		t.Setenv("DBUPDATER_SOURCE_MODE", "xml")
		t.Setenv("DBUPDATER_TABLE", "drop table;")
		t.Setenv("DBUPDATER_LOCK_TIMEOUT", "-1s")
		t.Setenv("DBUPDATER_LOG_LEVEL", "loud")
		t.Setenv("DBUPDATER_LOG_FORMAT", "xml")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"DBUPDATER_DRIVER", "DBUPDATER_SOURCE_MODE", "DBUPDATER_TABLE", "DBUPDATER_LOCK_TIMEOUT", "DBUPDATER_LOG_LEVEL", "DBUPDATER_LOG_FORMAT"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in error %q", key, err.Error())
			}
		}
	})
}

func TestValidTableName(t *testing.T) {
	for name, want := range map[string]bool{
		"database_updates": true,
		"_t1":              true,
		"1table":           false,
		"has space":        false,
		"quote\"":          false,
		"":                 false,
	} {
		if got := ValidTableName(name); got != want {
			t.Fatalf("ValidTableName(%q) = %v, want %v", name, got, want)
		}
	}
}
