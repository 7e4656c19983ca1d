package updater

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/example/dbupdater/internal/database"
	"github.com/example/dbupdater/internal/ledger"
	"github.com/example/dbupdater/internal/source"
	"github.com/example/dbupdater/internal/updates"
)

// Config holds the settings used to build an Updater.
type Config struct {
	Mode    source.Mode
	Path    string
	Dialect database.Dialect

	// Table names the tracking table. Empty means ledger.DefaultTable.
	Table string

	// Output receives progress lines in non-silent mode. Defaults to os.Stdout.
	Output io.Writer
	Logger *slog.Logger

	// LockTimeout bounds the wait for the runner lock. Zero uses the lock
	// default and a negative value makes a single attempt.
	LockTimeout time.Duration
	DisableLock bool

	// Now is the clock used for generated IDs and ledger dates.
	Now func() time.Time
}

// Updater computes and applies outstanding updates against one connection.
type Updater struct {
	conn    database.Conn
	src     source.Source
	ledger  *ledger.Ledger
	lock    *ledger.Lock
	out     io.Writer
	logger  *slog.Logger
	now     func() time.Time
	updates []updates.Update
}

// UpdateStatus describes one loaded update.
type UpdateStatus struct {
	ID         string
	Statements int
	Executed   bool
	ExecutedAt time.Time
}

// Status is the combined view of the loaded updates and the ledger.
type Status struct {
	Updates []UpdateStatus

	// Unknown lists ledger rows whose update is no longer in the source.
	Unknown []ledger.Entry
}

// Outstanding counts the updates not yet executed.
func (s Status) Outstanding() int {
	n := 0
	for _, u := range s.Updates {
		if !u.Executed {
			n++
		}
	}
	return n
}

// New opens the source selected by cfg.Mode and cfg.Path and builds an
// Updater on top of it.
func New(ctx context.Context, conn database.Conn, cfg Config) (*Updater, error) {
	src, err := source.Open(cfg.Mode, cfg.Path)
	if err != nil {
		return nil, err
	}
	return NewWithSource(ctx, conn, src, cfg)
}

// NewWithSource loads every update from src, rejects duplicate IDs and
// ensures the tracking table exists. No Updater is returned on failure.
func NewWithSource(ctx context.Context, conn database.Conn, src source.Source, cfg Config) (*Updater, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	logger := operationLogger(ctx, cfg.Logger, "load", "mode", string(cfg.Mode), "path", cfg.Path)

	loaded, err := src.Load()
	if err != nil {
		logger.Error("failed to load updates", "error", err, "error_kind", updates.Kind(err))
		return nil, err
	}
	if err := checkUniqueIDs(loaded); err != nil {
		logger.Error("invalid updates config", "error", err, "error_kind", updates.Kind(err))
		return nil, err
	}

	l := ledger.New(cfg.Dialect, ledger.WithTable(cfg.Table), ledger.WithClock(now))
	if err := l.EnsureTable(ctx, conn); err != nil {
		logger.Error("failed to set up tracking table", "table", l.Table(), "error", err)
		return nil, err
	}

	u := &Updater{
		conn:    conn,
		src:     src,
		ledger:  l,
		out:     out,
		logger:  cfg.Logger,
		now:     now,
		updates: loaded,
	}

	if !cfg.DisableLock {
		opts := []ledger.LockOption{ledger.WithLockTable(l.Table()), ledger.WithLockClock(now)}
		switch {
		case cfg.LockTimeout > 0:
			opts = append(opts, ledger.WithTimeout(cfg.LockTimeout))
		case cfg.LockTimeout < 0:
			opts = append(opts, ledger.WithTimeout(0))
		}
		u.lock = ledger.NewLock(cfg.Dialect, opts...)
	}

	logger.Debug("updates loaded", "count", len(loaded), "table", l.Table())
	return u, nil
}

func checkUniqueIDs(list []updates.Update) error {
	seen := make(map[string]struct{}, len(list))
	for _, u := range list {
		if _, dup := seen[u.ID()]; dup {
			return fmt.Errorf("%w: update ID %s is used more than once", updates.ErrInvalidConfig, u.ID())
		}
		seen[u.ID()] = struct{}{}
	}
	return nil
}

// WithTx returns a copy of u that runs every statement and ledger write on
// tx. The copy never commits or rolls back tx and skips the runner lock.
func (u *Updater) WithTx(tx *sql.Tx) *Updater {
	clone := *u
	clone.conn = tx
	clone.updates = slices.Clone(u.updates)
	return &clone
}

// Updates returns the loaded updates in execution order.
func (u *Updater) Updates() []updates.Update {
	return slices.Clone(u.updates)
}

// Outstanding returns the loaded updates without a ledger row, in loaded
// order.
func (u *Updater) Outstanding(ctx context.Context) ([]updates.Update, error) {
	var pending []updates.Update
	for _, upd := range u.updates {
		executed, err := u.ledger.WasExecuted(ctx, u.conn, upd.ID())
		if err != nil {
			return nil, err
		}
		if !executed {
			pending = append(pending, upd)
		}
	}
	return pending, nil
}

// Status reports the execution state of every loaded update.
func (u *Updater) Status(ctx context.Context) (Status, error) {
	entries, err := u.ledger.Entries(ctx, u.conn)
	if err != nil {
		return Status{}, err
	}

	executed := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		executed[e.UpdateID] = e.ExecutedAt
	}

	var status Status
	known := make(map[string]struct{}, len(u.updates))
	for _, upd := range u.updates {
		known[upd.ID()] = struct{}{}
		at, ok := executed[upd.ID()]
		status.Updates = append(status.Updates, UpdateStatus{
			ID:         upd.ID(),
			Statements: len(upd.Statements()),
			Executed:   ok,
			ExecutedAt: at,
		})
	}
	for _, e := range entries {
		if _, ok := known[e.UpdateID]; !ok {
			status.Unknown = append(status.Unknown, e)
		}
	}
	return status, nil
}

// SaveNew persists a new update and adds it to the in-memory list. An empty
// id is replaced by a generated one.
func (u *Updater) SaveNew(statements []string, id string) (updates.Update, error) {
	if id == "" {
		id = updates.GenerateIDAt(u.now())
	}
	logger := operationLogger(context.Background(), u.logger, "save_new", "update_id", id)

	upd, err := updates.New(id, statements)
	if err != nil {
		return updates.Update{}, err
	}
	for _, existing := range u.updates {
		if existing.ID() == id {
			return updates.Update{}, fmt.Errorf("%w: update %s is already defined", updates.ErrDuplicateID, id)
		}
	}

	if err := u.src.Append(upd); err != nil {
		logger.Error("failed to save update", "error", err, "error_kind", updates.Kind(err))
		return updates.Update{}, err
	}
	u.updates = append(u.updates, upd)

	logger.Info("update saved", "statements", len(statements))
	return upd, nil
}
