// Package updates defines the update record handled by dbupdater together
// with the error kinds shared by the loader, ledger and engine packages.
//
// An Update is a named, ordered batch of raw SQL statements applied as one
// unit. Records are values: once loaded they are never modified in place,
// and the With* helpers return replaced copies.
package updates

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

// idDateLayout prefixes generated identifiers so they sort by creation day.
const idDateLayout = "2006-01-02-"

// idEntropyBytes is the number of random bytes appended to generated IDs.
const idEntropyBytes = 8

// Update is an immutable, identified batch of SQL statements.
type Update struct {
	id         string
	statements []string
}

// New validates and returns an Update. Statements are kept in the given order.
func New(id string, statements []string) (Update, error) {
	if strings.TrimSpace(id) == "" {
		return Update{}, fmt.Errorf("%w: update has no valid ID", ErrInvalidConfig)
	}
	if len(statements) == 0 {
		return Update{}, fmt.Errorf("%w: update %s has no queries", ErrInvalidConfig, id)
	}
	for i, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			return Update{}, fmt.Errorf("%w: update %s has an empty query at position %d", ErrInvalidConfig, id, i+1)
		}
	}

	copied := make([]string, len(statements))
	copy(copied, statements)
	return Update{id: id, statements: copied}, nil
}

// ID returns the unique identifier of the update.
func (u Update) ID() string {
	return u.id
}

// Statements returns a copy of the update's statements in execution order.
func (u Update) Statements() []string {
	out := make([]string, len(u.statements))
	copy(out, u.statements)
	return out
}

// IsZero reports whether u is the zero Update.
func (u Update) IsZero() bool {
	return u.id == "" && len(u.statements) == 0
}

// WithID returns a copy of u carrying a different identifier.
func (u Update) WithID(id string) (Update, error) {
	return New(id, u.statements)
}

// WithStatements returns a copy of u carrying different statements.
func (u Update) WithStatements(statements []string) (Update, error) {
	return New(u.id, statements)
}

// String implements fmt.Stringer.
func (u Update) String() string {
	return fmt.Sprintf("update %s (%d statements)", u.id, len(u.statements))
}

// GenerateID returns a fresh identifier for an update authored now.
func GenerateID() string {
	return GenerateIDAt(time.Now())
}

// GenerateIDAt returns an identifier made of the date of t and a random hex
// suffix, for example "2024-01-01-9f86d081884c7d65".
func GenerateIDAt(t time.Time) string {
	return t.Format(idDateLayout) + randomHex(idEntropyBytes)
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return fmt.Sprintf("fallback%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
