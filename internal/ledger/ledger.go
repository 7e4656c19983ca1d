// Package ledger records which updates have been applied to a database and
// provides the advisory lock that serialises runners sharing it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/dbupdater/internal/database"
	"github.com/example/dbupdater/internal/updates"
)

// DefaultTable is the name of the tracking table.
const DefaultTable = "database_updates"

// sqliteTimeLayout matches SQLite's own datetime text format.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// Entry is one executed update as stored in the tracking table.
type Entry struct {
	UpdateID   string
	ExecutedAt time.Time
}

// Ledger reads and writes the tracking table. Every method takes the handle
// to run against so that ledger writes can share the caller's transaction.
type Ledger struct {
	dialect database.Dialect
	table   string
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTable overrides DefaultTable.
func WithTable(name string) Option {
	return func(l *Ledger) {
		if name = strings.TrimSpace(name); name != "" {
			l.table = name
		}
	}
}

// WithClock sets the time source used for execution dates.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a Ledger for dialect.
func New(dialect database.Dialect, opts ...Option) *Ledger {
	l := &Ledger{
		dialect: dialect,
		table:   DefaultTable,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Table returns the tracking table name.
func (l *Ledger) Table() string {
	return l.table
}

// EnsureTable creates the tracking table when the catalog does not list it.
// The catalog probe never fails on a missing table, so the call is safe
// inside a caller's PostgreSQL transaction.
func (l *Ledger) EnsureTable(ctx context.Context, conn database.Conn) error {
	var count int
	if err := conn.QueryRowContext(ctx, l.dialect.TableExistsQuery(), l.table).Scan(&count); err != nil {
		return fmt.Errorf("%w: couldn't check for table %s: %v", updates.ErrTableSetup, l.table, err)
	}
	if count > 0 {
		return nil
	}

	if _, err := conn.ExecContext(ctx, l.CreateTableSQL()); err != nil {
		return fmt.Errorf("%w: couldn't create table %s, please create it manually: %v", updates.ErrTableSetup, l.table, err)
	}
	return nil
}

// WasExecuted reports whether exactly one ledger row holds id.
func (l *Ledger) WasExecuted(ctx context.Context, conn database.Conn, id string) (bool, error) {
	query := l.dialect.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE update_id = ?", l.quotedTable()))

	var count int
	if err := conn.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: please make sure table %s exists: %v", updates.ErrTableSetup, l.table, err)
	}
	return count == 1, nil
}

// MarkExecuted inserts the ledger row for id with the current clock time.
func (l *Ledger) MarkExecuted(ctx context.Context, conn database.Conn, id string) error {
	query := l.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (update_id, execution_date) VALUES (?, ?)", l.quotedTable()))

	res, err := conn.ExecContext(ctx, query, id, l.timestamp())
	if err != nil {
		return updates.NewDatabaseError(id, query, "mark executed", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("%w: couldn't insert into table %s (%d rows affected)", updates.ErrTableSetup, l.table, n)
	}
	return nil
}

// Entries returns every ledger row ordered by execution date.
func (l *Ledger) Entries(ctx context.Context, conn database.Conn) ([]Entry, error) {
	query := fmt.Sprintf("SELECT update_id, execution_date FROM %s ORDER BY execution_date, id", l.quotedTable())

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: please make sure table %s exists: %v", updates.ErrTableSetup, l.table, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id  string
			raw any
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, updates.NewDatabaseError(id, query, "scan ledger row", err)
		}
		executedAt, err := ParseTimestamp(raw)
		if err != nil {
			return nil, updates.NewDatabaseError(id, query, "parse execution date", err)
		}
		entries = append(entries, Entry{UpdateID: id, ExecutedAt: executedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, updates.NewDatabaseError("", query, "iterate ledger rows", err)
	}
	return entries, nil
}

func (l *Ledger) quotedTable() string {
	return l.dialect.QuoteIdent(l.table)
}

// timestamp returns the execution date argument. SQLite stores it as text
// in its native layout so that it sorts and compares like CURRENT_TIMESTAMP.
func (l *Ledger) timestamp() any {
	now := l.now().UTC()
	if l.dialect == database.SQLite {
		return now.Format(sqliteTimeLayout)
	}
	return now.Round(0)
}

// CreateTableSQL returns the dialect-specific DDL for the tracking table.
func (l *Ledger) CreateTableSQL() string {
	table := l.quotedTable()
	switch l.dialect {
	case database.Postgres:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	update_id VARCHAR(255) NOT NULL UNIQUE,
	execution_date TIMESTAMPTZ NOT NULL
)`, table)
	case database.MySQL:
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n"+
			"\t`id` INT UNSIGNED NOT NULL AUTO_INCREMENT,\n"+
			"\t`update_id` VARCHAR(255) NOT NULL,\n"+
			"\t`execution_date` DATETIME(6) NOT NULL,\n"+
			"\tPRIMARY KEY (`id`),\n"+
			"\tUNIQUE KEY `update_idx` (`update_id`)\n"+
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", table)
	default:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	update_id VARCHAR(255) NOT NULL UNIQUE,
	execution_date TIMESTAMP NOT NULL
)`, table)
	}
}

var timestampLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseTimestamp accepts the representations drivers return for a
// timestamp column.
func ParseTimestamp(raw any) (time.Time, error) {
	var text string
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		text = v
	case []byte:
		text = string(v)
	case sql.NullTime:
		if v.Valid {
			return v.Time, nil
		}
		return time.Time{}, fmt.Errorf("execution date is NULL")
	case nil:
		return time.Time{}, fmt.Errorf("execution date is NULL")
	default:
		return time.Time{}, fmt.Errorf("unsupported execution date type %T", raw)
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised execution date %q", text)
}
