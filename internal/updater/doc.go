// Package updater applies outstanding database updates.
//
// An Updater is built once per run: construction loads every update from its
// Source, rejects duplicate IDs and makes sure the tracking table exists.
// Afterwards the in-memory list is combined with live ledger lookups to
// decide what still has to run.
//
// Each update runs inside its own transaction together with its ledger row,
// so an update is either fully applied and recorded or not at all. When the
// Updater is bound to a caller's *sql.Tx it joins that transaction and leaves
// commit and rollback to the caller.
//
// Usage:
//
//	u, err := updater.New(ctx, db, updater.Config{
//		Mode:    source.ModeDir,
//		Path:    "database/updates",
//		Dialect: database.Postgres,
//	})
//	if err != nil {
//		return err
//	}
//	applied, err := u.ExecuteOutstanding(ctx, true)
package updater
