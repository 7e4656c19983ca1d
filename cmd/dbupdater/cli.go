package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff"

	"github.com/example/dbupdater/internal/config"
	"github.com/example/dbupdater/internal/database"
	"github.com/example/dbupdater/internal/logging"
	"github.com/example/dbupdater/internal/source"
	"github.com/example/dbupdater/internal/updater"
	"github.com/example/dbupdater/internal/updates"
)

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 1
	exitDatabase = 2
	exitUpdates  = 3
)

type options struct {
	driver      string
	dsn         string
	mode        string
	path        string
	table       string
	lockTimeout time.Duration
	noLock      bool
	silent      bool
	logLevel    string
	logFormat   string
}

// ParseAndRun parses the command line, and then runs the passed command.
func ParseAndRun(ctx context.Context, stdout, stderr io.Writer, stdin io.Reader, args []string) int {
	env, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %s\n", err)
		return exitUsage
	}

	fs := flag.NewFlagSet("dbupdater", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fs.Output().Write([]byte(usage))
	}

	var opts options
	fs.StringVar(&opts.driver, "driver", env.Driver, "database driver")
	fs.StringVar(&opts.dsn, "dsn", env.DSN, "data source name")
	fs.StringVar(&opts.mode, "mode", string(env.SourceMode), "update store mode")
	fs.StringVar(&opts.path, "path", env.SourcePath, "update store location")
	fs.StringVar(&opts.table, "table", env.Table, "tracking table name")
	fs.DurationVar(&opts.lockTimeout, "lock-timeout", env.LockTimeout, "runner lock timeout")
	fs.BoolVar(&opts.noLock, "no-lock", false, "do not take the runner lock")
	fs.BoolVar(&opts.silent, "silent", false, "report failures through the exit status only")
	fs.StringVar(&opts.logLevel, "log-level", env.LogLevel.String(), "log level")
	fs.StringVar(&opts.logFormat, "log-format", env.LogFormat, "log format")
	fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fs.Output().Write([]byte(fmt.Sprintf("\nUsage error: %s\n", err)))
		}
		return exitUsage
	}

	// a mode chosen on the command line brings its own default path
	if !isSet(fs, "path") && isSet(fs, "mode") && !envPathSet(env) {
		if mode, err := source.ParseMode(opts.mode); err == nil {
			opts.path = config.DefaultSourcePath(mode)
		}
	}

	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Usage error: %s\n", err)
		return exitUsage
	}
	if !logging.ValidFormat(opts.logFormat) {
		fmt.Fprintf(stderr, "Usage error: invalid log format %q\n", opts.logFormat)
		return exitUsage
	}
	logger := logging.New(stderr, opts.logFormat, level).With("service", "dbupdater")
	ctx = logging.ContextWithLogger(ctx, logger)

	commands := fs.Args()
	if len(commands) == 0 {
		fs.Usage()
		return exitUsage
	}

	r := &runner{
		opts:   opts,
		stdout: stdout,
		stderr: stderr,
		stdin:  stdin,
		logger: logger,
	}

	switch strings.ToLower(commands[0]) {
	case "status":
		return r.status(ctx)
	case "run":
		return r.run(ctx)
	case "exec":
		if len(commands) < 2 {
			fmt.Fprintln(stderr, "Usage error: exec needs an update ID")
			return exitUsage
		}
		return r.exec(ctx, commands[1])
	case "create":
		return r.create(ctx, commands[1:])
	case "version":
		fmt.Fprintln(stdout, version)
		return exitOK
	}

	fmt.Fprintf(stderr, "Usage error: unknown command %q\n", commands[0])
	return exitUsage
}

func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func envPathSet(env config.Config) bool {
	return env.SourcePath != config.DefaultSourcePath(env.SourceMode)
}

type runner struct {
	opts   options
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	logger *slog.Logger
}

// open connects to the database and builds the Updater. The returned close
// function releases the connection pool.
func (r *runner) open(ctx context.Context) (*updater.Updater, func(), int) {
	dialect, err := database.DialectFor(r.opts.driver)
	if err != nil {
		fmt.Fprintf(r.stderr, "Usage error: %s\n", err)
		return nil, nil, exitUsage
	}
	mode, err := source.ParseMode(r.opts.mode)
	if err != nil {
		fmt.Fprintf(r.stderr, "Usage error: %s\n", err)
		return nil, nil, exitUsage
	}
	if !config.ValidTableName(r.opts.table) {
		fmt.Fprintf(r.stderr, "Usage error: invalid table name %q\n", r.opts.table)
		return nil, nil, exitUsage
	}

	db, err := database.Open(ctx, database.DefaultConfig(r.opts.driver, r.opts.dsn))
	if err != nil {
		r.logger.Error("failed to open database", "driver", r.opts.driver, "error", err)
		fmt.Fprintf(r.stderr, "failed to connect to database: %s\n", database.Describe(err))
		return nil, nil, exitDatabase
	}
	closeDB := func() {
		if cerr := db.Close(); cerr != nil {
			r.logger.Error("failed to close database", "error", cerr)
		}
	}

	lockTimeout := r.opts.lockTimeout
	if lockTimeout == 0 {
		lockTimeout = -1
	}

	u, err := updater.New(ctx, db, updater.Config{
		Mode:        mode,
		Path:        r.opts.path,
		Dialect:     dialect,
		Table:       r.opts.table,
		Output:      r.stdout,
		Logger:      r.logger,
		LockTimeout: lockTimeout,
		DisableLock: r.opts.noLock,
	})
	if err != nil {
		closeDB()
		fmt.Fprintln(r.stderr, err)
		return nil, nil, exitCode(err)
	}
	return u, closeDB, exitOK
}

func (r *runner) status(ctx context.Context) int {
	u, closeDB, code := r.open(ctx)
	if code != exitOK {
		return code
	}
	defer closeDB()

	status, err := u.Status(ctx)
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return exitCode(err)
	}

	w := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tEXECUTED AT\tSTATEMENTS")
	for _, s := range status.Updates {
		state, at := "outstanding", "-"
		if s.Executed {
			state, at = "executed", s.ExecutedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, state, at, s.Statements)
	}
	for _, e := range status.Unknown {
		fmt.Fprintf(w, "%s\t%s\t%s\t-\n", e.UpdateID, "unknown", e.ExecutedAt.UTC().Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return exitUpdates
	}
	fmt.Fprintf(r.stdout, "%d outstanding update(s)\n", status.Outstanding())
	return exitOK
}

func (r *runner) run(ctx context.Context) int {
	u, closeDB, code := r.open(ctx)
	if code != exitOK {
		return code
	}
	defer closeDB()

	applied, err := u.ExecuteOutstanding(ctx, r.opts.silent)
	r.logger.Info("run finished", "applied", len(applied))
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return exitCode(err)
	}
	return exitOK
}

func (r *runner) exec(ctx context.Context, id string) int {
	u, closeDB, code := r.open(ctx)
	if code != exitOK {
		return code
	}
	defer closeDB()

	if err := u.ExecuteByID(ctx, id, r.opts.silent); err != nil {
		fmt.Fprintln(r.stderr, err)
		return exitCode(err)
	}
	return exitOK
}

func (r *runner) create(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	id := fs.String("id", "", "update ID (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	statements := fs.Args()
	if len(statements) == 0 {
		input, err := io.ReadAll(r.stdin)
		if err != nil {
			fmt.Fprintf(r.stderr, "failed to read statements: %s\n", err)
			return exitUsage
		}
		statements = source.SplitStatements(string(input))
	}
	if len(statements) == 0 {
		fmt.Fprintln(r.stderr, "Usage error: create needs at least one statement")
		return exitUsage
	}

	u, closeDB, code := r.open(ctx)
	if code != exitOK {
		return code
	}
	defer closeDB()

	saved, err := u.SaveNew(statements, *id)
	if err != nil {
		fmt.Fprintln(r.stderr, err)
		return exitCode(err)
	}
	fmt.Fprintf(r.stdout, "Created update #%s\n", saved.ID())
	return exitOK
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, updates.ErrTableSetup),
		errors.Is(err, updates.ErrLocked),
		errors.Is(err, sql.ErrConnDone):
		return exitDatabase
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitDatabase
	}
	return exitUpdates
}
