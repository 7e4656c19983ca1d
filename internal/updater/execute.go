package updater

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/dbupdater/internal/database"
	"github.com/example/dbupdater/internal/updates"
)

// ExecuteOutstanding applies every outstanding update in order and stops at
// the first failure. It returns the updates applied before that failure.
//
// With silent set the failure is returned as an *updates.UpdateFailureError.
// Otherwise a line per applied update, or "No outstanding updates.", is
// written to the configured output and a failure is printed there instead
// of being returned. Lock and ledger errors are always returned.
func (u *Updater) ExecuteOutstanding(ctx context.Context, silent bool) ([]updates.Update, error) {
	logger := operationLogger(ctx, u.logger, "execute_outstanding")

	if len(u.updates) == 0 {
		logger.Info("no updates loaded")
		if !silent {
			fmt.Fprintln(u.out, "No outstanding updates.")
		}
		return []updates.Update{}, nil
	}

	release, err := u.acquireLock(ctx, logger)
	if err != nil {
		return nil, err
	}
	defer release()

	pending, err := u.Outstanding(ctx)
	if err != nil {
		logger.Error("failed to compute outstanding updates", "error", err, "error_kind", updates.Kind(err))
		return nil, err
	}
	logger.Info("outstanding updates", "count", len(pending))

	applied := make([]updates.Update, 0, len(pending))
	for i, upd := range pending {
		if i > 0 {
			if err := u.refreshLock(ctx, logger); err != nil {
				return applied, err
			}
		}
		if err := u.executeUpdate(ctx, upd, logger); err != nil {
			if silent {
				return applied, err
			}
			fmt.Fprintln(u.out, err)
			return applied, nil
		}
		applied = append(applied, upd)

		if !silent {
			fmt.Fprintf(u.out, "Update #%s has been executed.\n", upd.ID())
		}
	}

	if len(applied) == 0 && !silent {
		fmt.Fprintln(u.out, "No outstanding updates.")
	}
	return applied, nil
}

// ExecuteByID applies the loaded update with the given ID whether or not the
// ledger already lists it. An unknown ID is always returned as an error;
// execution failures follow the silent rule of ExecuteOutstanding.
func (u *Updater) ExecuteByID(ctx context.Context, id string, silent bool) error {
	logger := operationLogger(ctx, u.logger, "execute_by_id", "update_id", id)

	var target updates.Update
	for _, upd := range u.updates {
		if upd.ID() == id {
			target = upd
			break
		}
	}
	if target.IsZero() {
		err := updates.NewUpdateFailureError(id, fmt.Errorf("no update with ID #%s was found", id))
		logger.Warn("update not found")
		return err
	}

	release, err := u.acquireLock(ctx, logger)
	if err != nil {
		return err
	}
	defer release()

	if err := u.executeUpdate(ctx, target, logger); err != nil {
		if silent {
			return err
		}
		fmt.Fprintln(u.out, err)
		return nil
	}

	if !silent {
		fmt.Fprintf(u.out, "Update #%s has been executed.\n", id)
	}
	return nil
}

// executeUpdate runs every statement of upd and records it in the ledger as
// one unit. Handles able to begin transactions get a fresh one; anything
// else is taken to be a caller-managed transaction and is left open.
func (u *Updater) executeUpdate(ctx context.Context, upd updates.Update, logger *slog.Logger) (err error) {
	id := upd.ID()
	logger = logger.With("update_id", id)
	start := time.Now()

	conn := u.conn
	var tx *sql.Tx
	if starter, ok := conn.(database.TxStarter); ok {
		tx, err = starter.BeginTx(ctx, nil)
		if err != nil {
			return u.failed(logger, updates.NewUpdateFailureError(id, updates.NewDatabaseError(id, "", "begin transaction", err)))
		}
		conn = tx
		defer func() {
			if err == nil {
				return
			}
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Error("failed to roll back update", "error", rbErr)
			}
		}()
	}

	logger.Debug("executing update", "statements", len(upd.Statements()), "own_transaction", tx != nil)

	for i, stmt := range upd.Statements() {
		if _, execErr := conn.ExecContext(ctx, stmt); execErr != nil {
			var cause error = updates.NewDatabaseError(id, stmt, fmt.Sprintf("execute statement %d", i+1), execErr)
			if detail := strings.TrimPrefix(database.Describe(execErr), execErr.Error()); detail != "" {
				cause = fmt.Errorf("%w%s", cause, detail)
			}
			return u.failed(logger, updates.NewUpdateFailureError(id, cause))
		}
	}

	if markErr := u.ledger.MarkExecuted(ctx, conn, id); markErr != nil {
		return u.failed(logger, updates.NewUpdateFailureError(id, markErr))
	}

	if tx != nil {
		if commitErr := tx.Commit(); commitErr != nil {
			return u.failed(logger, updates.NewUpdateFailureError(id, updates.NewDatabaseError(id, "", "commit transaction", commitErr)))
		}
	}

	logger.Info("update executed", "duration", time.Since(start))
	return nil
}

func (u *Updater) failed(logger *slog.Logger, err error) error {
	logger.Error("update failed", "error", err, "error_kind", updates.Kind(err))
	return err
}

// acquireLock takes the runner lock unless locking is disabled or the
// Updater is composing inside a caller's transaction.
func (u *Updater) acquireLock(ctx context.Context, logger *slog.Logger) (func(), error) {
	if u.lock == nil || database.InTransaction(u.conn) {
		return func() {}, nil
	}

	release, err := u.lock.Acquire(ctx, u.conn)
	if err != nil {
		logger.Error("failed to acquire lock", "table", u.lock.Table(), "error", err, "error_kind", updates.Kind(err))
		return nil, err
	}
	logger.Debug("lock acquired", "owner", u.lock.Owner())

	return func() {
		if err := release(); err != nil {
			logger.Error("failed to release lock", "table", u.lock.Table(), "owner", u.lock.Owner(), "error", err, "error_kind", updates.Kind(err))
			return
		}
		logger.Debug("lock released", "owner", u.lock.Owner())
	}, nil
}

// refreshLock extends a held runner lock before the next update of a batch.
func (u *Updater) refreshLock(ctx context.Context, logger *slog.Logger) error {
	if u.lock == nil || database.InTransaction(u.conn) {
		return nil
	}
	if err := u.lock.Refresh(ctx, u.conn); err != nil {
		logger.Error("failed to refresh lock", "table", u.lock.Table(), "error", err, "error_kind", updates.Kind(err))
		return err
	}
	return nil
}
