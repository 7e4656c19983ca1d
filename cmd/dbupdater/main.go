// Dbupdater applies named batches of SQL statements to a database exactly
// once and records each applied batch in a tracking table.
//
// Usage:
//
//	dbupdater [flags] <command> [arguments]
//
// The commands are
//
//	status              list loaded updates and whether they were executed
//	run                 execute every outstanding update
//	exec <id>           execute one update regardless of its state
//	create [-id ID] [statement ...]
//	                    save a new update (statements are read from stdin
//	                    when none are given)
//	version             print the dbupdater version
//
// Flag defaults come from the DBUPDATER_* environment variables and may also
// be set in a plain "key value" file passed with -config.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var usage = `
dbupdater applies database updates exactly once.

Usage:

	dbupdater [flags] <command> [arguments]

The commands are:

	status              list loaded updates and whether they were executed
	run                 execute every outstanding update
	exec <id>           execute one update regardless of its state
	create [-id ID] [statement ...]
	                    save a new update (statements are read from stdin
	                    when none are given)
	version             print the dbupdater version

The flags are:

	-driver        database driver: sqlite, pgx, postgres, mysql (env DBUPDATER_DRIVER)
	-dsn           data source name (env DBUPDATER_DSN)
	-mode          update store: dir, json, yaml, go (env DBUPDATER_SOURCE_MODE)
	-path          update store location (env DBUPDATER_SOURCE_PATH)
	-table         tracking table name (env DBUPDATER_TABLE)
	-lock-timeout  how long to wait for another runner (env DBUPDATER_LOCK_TIMEOUT)
	-no-lock       do not take the runner lock
	-silent        report failures through the exit status only
	-log-level     debug, info, warn, error (env DBUPDATER_LOG_LEVEL)
	-log-format    json or text (env DBUPDATER_LOG_FORMAT)
	-config        file with "flag value" lines
`[1:]

// set by ldflags when built
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := ParseAndRun(ctx, os.Stdout, os.Stderr, os.Stdin, os.Args[1:])
	stop()
	os.Exit(code)
}
