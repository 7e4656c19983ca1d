package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/dbupdater/internal/database"
	"github.com/example/dbupdater/internal/updates"
)

const (
	// LockName is the key of the single lock row.
	LockName = "dbupdater"

	defaultLockTTL      = 15 * time.Minute
	defaultPollInterval = 500 * time.Millisecond
	defaultLockTimeout  = 30 * time.Second
)

// Lock is an advisory lock kept as a single row in "<table>_lock". A row
// whose expiry has passed is treated as abandoned and taken over.
type Lock struct {
	dialect      database.Dialect
	table        string
	owner        string
	ttl          time.Duration
	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// LockOption configures a Lock.
type LockOption func(*Lock)

// WithLockTable derives the lock table from the tracking table name.
func WithLockTable(trackingTable string) LockOption {
	return func(l *Lock) {
		if trackingTable != "" {
			l.table = trackingTable + "_lock"
		}
	}
}

// WithOwner overrides the random owner token.
func WithOwner(owner string) LockOption {
	return func(l *Lock) {
		if owner != "" {
			l.owner = owner
		}
	}
}

// WithTTL sets how long an acquired lock stays valid without release.
func WithTTL(ttl time.Duration) LockOption {
	return func(l *Lock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets the delay between attempts on a held lock.
func WithPollInterval(d time.Duration) LockOption {
	return func(l *Lock) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithTimeout bounds how long Acquire waits. Zero means a single attempt.
func WithTimeout(d time.Duration) LockOption {
	return func(l *Lock) {
		if d >= 0 {
			l.timeout = d
		}
	}
}

// WithLockClock sets the time source used for acquisition and expiry.
func WithLockClock(now func() time.Time) LockOption {
	return func(l *Lock) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLock returns a Lock for dialect owned by a fresh UUID.
func NewLock(dialect database.Dialect, opts ...LockOption) *Lock {
	l := &Lock{
		dialect:      dialect,
		table:        DefaultTable + "_lock",
		owner:        uuid.NewString(),
		ttl:          defaultLockTTL,
		pollInterval: defaultPollInterval,
		timeout:      defaultLockTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Owner returns the token written into the lock row.
func (l *Lock) Owner() string {
	return l.owner
}

// Table returns the lock table name.
func (l *Lock) Table() string {
	return l.table
}

// Acquire obtains the lock, polling until the timeout elapses or ctx is
// cancelled. The returned release function deletes the row if this runner
// still owns it. A lock that stays held yields updates.ErrLocked.
//
// The row expires after the TTL; callers holding it across a long batch
// call Refresh between units of work.
func (l *Lock) Acquire(ctx context.Context, conn database.Conn) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, l.createTableSQL()); err != nil {
		return nil, fmt.Errorf("%w: couldn't create lock table %s: %v", updates.ErrTableSetup, l.table, err)
	}

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	for {
		holder, err := l.tryAcquire(waitCtx, conn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("acquire lock: %w", ctxErr)
			}
			return nil, err
		}
		if holder == "" {
			return l.releaseFunc(conn), nil
		}

		if l.timeout == 0 {
			return nil, fmt.Errorf("%w (owner %s)", updates.ErrLocked, holder)
		}

		timer := time.NewTimer(l.pollInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("acquire lock: %w", err)
			}
			return nil, fmt.Errorf("%w (owner %s, waited %s)", updates.ErrLocked, holder, l.timeout)
		case <-timer.C:
		}
	}
}

// tryAcquire makes one attempt. It returns the current holder when the lock
// is taken and "" when this runner now owns it.
func (l *Lock) tryAcquire(ctx context.Context, conn database.Conn) (string, error) {
	now := l.now().Unix()
	table := l.dialect.QuoteIdent(l.table)

	expire := l.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE name = ? AND expires_at <= ?", table))
	if _, err := conn.ExecContext(ctx, expire, LockName, now); err != nil {
		return "", updates.NewDatabaseError("", expire, "expire stale lock", err)
	}

	insert := l.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (name, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)", table))
	_, insertErr := conn.ExecContext(ctx, insert, LockName, l.owner, now, now+int64(l.ttl/time.Second))
	if insertErr == nil {
		return "", nil
	}

	var holder string
	query := l.dialect.Rebind(fmt.Sprintf("SELECT owner FROM %s WHERE name = ?", table))
	err := conn.QueryRowContext(ctx, query, LockName).Scan(&holder)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// released between the insert and the lookup; report the insert failure
		return "", updates.NewDatabaseError("", insert, "acquire lock", insertErr)
	case err != nil:
		return "", updates.NewDatabaseError("", query, "read lock owner", err)
	}
	return holder, nil
}

// Refresh pushes the expiry of a held lock one TTL past now. It fails with
// updates.ErrLocked when the row no longer belongs to this runner.
func (l *Lock) Refresh(ctx context.Context, conn database.Conn) error {
	now := l.now().Unix()
	query := l.dialect.Rebind(fmt.Sprintf("UPDATE %s SET expires_at = ? WHERE name = ? AND owner = ?", l.dialect.QuoteIdent(l.table)))

	res, err := conn.ExecContext(ctx, query, now+int64(l.ttl/time.Second), LockName, l.owner)
	if err != nil {
		return updates.NewDatabaseError("", query, "refresh lock", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: lock %s is no longer held by %s", updates.ErrLocked, l.table, l.owner)
	}
	return nil
}

func (l *Lock) releaseFunc(conn database.Conn) func() error {
	query := l.dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE name = ? AND owner = ?", l.dialect.QuoteIdent(l.table)))
	return func() error {
		res, err := conn.ExecContext(context.Background(), query, LockName, l.owner)
		if err != nil {
			return updates.NewDatabaseError("", query, "release lock", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: lock %s was taken over before release", updates.ErrLocked, l.table)
		}
		return nil
	}
}

func (l *Lock) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(64) NOT NULL PRIMARY KEY,
	owner VARCHAR(64) NOT NULL,
	acquired_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
)`, l.dialect.QuoteIdent(l.table))
}
