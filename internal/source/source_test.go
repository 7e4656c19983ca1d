package source

import (
	"errors"
	"testing"

	"github.com/example/dbupdater/internal/updates"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
		err   bool
	}{
		{input: "", want: ModeDir},
		{input: "directory", want: ModeDir},
		{input: "JSON", want: ModeJSON},
		{input: "yml", want: ModeYAML},
		{input: " yaml ", want: ModeYAML},
		{input: "config", want: ModeGo},
		{input: "go", want: ModeGo},
		{input: "xml", err: true},
	}

	for _, tc := range tests {
		got, err := ParseMode(tc.input)
		if tc.err {
			if !errors.Is(err, updates.ErrInvalidConfig) {
				t.Fatalf("ParseMode(%q): expected ErrInvalidConfig, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", tc.input, got, err, tc.want)
		}
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open(ModeDir, " "); !errors.Is(err, updates.ErrConfigRead) {
		t.Fatalf("expected ErrConfigRead for empty path, got %v", err)
	}
	if _, err := Open(Mode("xml"), "updates.xml"); !errors.Is(err, updates.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unknown mode, got %v", err)
	}

	src, err := Open(ModeDir, t.TempDir(), WithExtension(".psql"), WithCreateDir(false))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dir, ok := src.(*Directory)
	if !ok {
		t.Fatalf("expected *Directory, got %T", src)
	}
	if dir.extension != "psql" || dir.createDir {
		t.Fatalf("options not applied: %+v", dir)
	}

	for mode, want := range map[Mode]string{ModeJSON: "JSON", ModeYAML: "YAML"} {
		src, err := Open(mode, "updates")
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", mode, err)
		}
		doc, ok := src.(*Document)
		if !ok || doc.codec.format() != want {
			t.Fatalf("Open(%s) returned %T", mode, src)
		}
	}
	if src, _ := Open(ModeGo, "updates.go"); src == nil {
		t.Fatalf("expected GoConfig source")
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		stored string
		want   error
	}{
		{stored: "1.0.0"},
		{stored: "v1.0.0"},
		{stored: "0.1.0"},
		{stored: "1.0.1", want: updates.ErrOutdatedConfig},
		{stored: "10.0.0", want: updates.ErrOutdatedConfig},
		{stored: "", want: updates.ErrInvalidConfig},
		{stored: "latest", want: updates.ErrInvalidConfig},
	}

	for _, tc := range tests {
		err := checkVersion(tc.stored)
		if tc.want == nil && err != nil {
			t.Fatalf("checkVersion(%q) unexpected error: %v", tc.stored, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("checkVersion(%q) = %v; want %v", tc.stored, err, tc.want)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("  a ;\n\n;b;  ")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split: %q", got)
	}
	if got := formatStatements([]string{"a", "b;"}); got != "a;\nb;\n" {
		t.Fatalf("unexpected format: %q", got)
	}
}
