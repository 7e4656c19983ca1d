package updates

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		statements []string
		wantErr    bool
	}{
		{name: "valid", id: "2024-01-01-abc", statements: []string{"SELECT 1", "SELECT 2"}},
		{name: "empty id", id: "", statements: []string{"SELECT 1"}, wantErr: true},
		{name: "blank id", id: "   ", statements: []string{"SELECT 1"}, wantErr: true},
		{name: "no statements", id: "a", statements: nil, wantErr: true},
		{name: "blank statement", id: "a", statements: []string{"SELECT 1", " "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := New(tt.id, tt.statements)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.ID() != tt.id {
				t.Errorf("expected id %q, got %q", tt.id, u.ID())
			}
			got := u.Statements()
			if strings.Join(got, "|") != strings.Join(tt.statements, "|") {
				t.Errorf("statements not preserved: %v", got)
			}
		})
	}
}

func TestUpdate_IsImmutable(t *testing.T) {
	source := []string{"SELECT 1", "SELECT 2"}
	u, err := New("immutable", source)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	source[0] = "DROP TABLE users"
	if u.Statements()[0] != "SELECT 1" {
		t.Fatalf("update shares the caller's slice")
	}

	stmts := u.Statements()
	stmts[1] = "DROP TABLE users"
	if u.Statements()[1] != "SELECT 2" {
		t.Fatalf("Statements exposes internal slice")
	}

	renamed, err := u.WithID("renamed")
	if err != nil {
		t.Fatalf("WithID returned error: %v", err)
	}
	if u.ID() != "immutable" || renamed.ID() != "renamed" {
		t.Fatalf("WithID mutated the original: %s / %s", u.ID(), renamed.ID())
	}

	if _, err := u.WithStatements(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected WithStatements(nil) to fail validation, got %v", err)
	}
}

func TestGenerateIDAt(t *testing.T) {
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^2024-03-09-[0-9a-f]{16}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateIDAt(at)
		if !pattern.MatchString(id) {
			t.Fatalf("unexpected id format: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = true
	}
}

func TestFromRow(t *testing.T) {
	t.Run("queries", func(t *testing.T) {
		u, err := FromRow(Row{ID: "a", Queries: []string{"SELECT 1"}})
		if err != nil {
			t.Fatalf("FromRow returned error: %v", err)
		}
		if u.ID() != "a" || len(u.Statements()) != 1 {
			t.Fatalf("unexpected update: %v", u)
		}
	})

	t.Run("statements alias", func(t *testing.T) {
		u, err := FromRow(Row{ID: "b", Statements: []string{"SELECT 1", "SELECT 2"}})
		if err != nil {
			t.Fatalf("FromRow returned error: %v", err)
		}
		if len(u.Statements()) != 2 {
			t.Fatalf("expected 2 statements, got %d", len(u.Statements()))
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if _, err := FromRow(Row{Queries: []string{"SELECT 1"}}); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("missing queries", func(t *testing.T) {
		if _, err := FromRow(Row{ID: "c"}); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("both fields", func(t *testing.T) {
		_, err := FromRow(Row{ID: "d", Queries: []string{"SELECT 1"}, Statements: []string{"SELECT 2"}})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		u, _ := New("e", []string{"SELECT 1", "SELECT 2"})
		back, err := FromRow(ToRow(u))
		if err != nil {
			t.Fatalf("FromRow returned error: %v", err)
		}
		if back.ID() != u.ID() || strings.Join(back.Statements(), ";") != strings.Join(u.Statements(), ";") {
			t.Fatalf("round trip mismatch: %v vs %v", back, u)
		}
	})
}
