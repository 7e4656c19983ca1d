package testfixtures

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/dbupdater/internal/updates"
)

var fixtureIDs = NewIDGenerator("")

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Clock is a manually advanced time source. Pass clock.Now wherever a
// func() time.Time is accepted.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = referenceTime
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// UpdateFixture describes an update before it is validated.
type UpdateFixture struct {
	ID         string
	Statements []string
}

// UpdateOption configures the generated update fixture.
type UpdateOption func(*UpdateFixture)

// WithUpdateID overrides the generated identifier.
func WithUpdateID(id string) UpdateOption {
	return func(f *UpdateFixture) {
		f.ID = id
	}
}

// WithStatements replaces the default statement list.
func WithStatements(statements ...string) UpdateOption {
	return func(f *UpdateFixture) {
		f.Statements = statements
	}
}

// NewUpdateFixture returns a fixture with a unique date-prefixed ID that
// creates its own table.
func NewUpdateFixture(opts ...UpdateOption) UpdateFixture {
	id := fixtureIDs.Next()
	suffix := id[strings.LastIndexByte(id, '-')+1:]
	fixture := UpdateFixture{
		ID:         id,
		Statements: []string{"CREATE TABLE fixture_" + suffix + " (id INTEGER PRIMARY KEY)"},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// Update validates the fixture, failing the test on error.
func (f UpdateFixture) Update(tb testing.TB) updates.Update {
	tb.Helper()
	u, err := updates.New(f.ID, f.Statements)
	if err != nil {
		tb.Fatalf("invalid update fixture %q: %v", f.ID, err)
	}
	return u
}

// NewUpdate is shorthand for NewUpdateFixture(opts...).Update(tb).
func NewUpdate(tb testing.TB, opts ...UpdateOption) updates.Update {
	tb.Helper()
	return NewUpdateFixture(opts...).Update(tb)
}
