package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/dbupdater/internal/updates"
)

type cliHarness struct {
	t    *testing.T
	base []string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	for _, key := range []string{
		"DBUPDATER_DRIVER", "DBUPDATER_DSN", "DBUPDATER_SOURCE_MODE", "DBUPDATER_SOURCE_PATH",
		"DBUPDATER_TABLE", "DBUPDATER_LOCK_TIMEOUT", "DBUPDATER_LOG_LEVEL", "DBUPDATER_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	return &cliHarness{
		t: t,
		base: []string{
			"-dsn", filepath.Join(dir, "cli.db"),
			"-path", filepath.Join(dir, "updates"),
			"-log-level", "error",
		},
	}
}

func (h *cliHarness) run(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	all := append(append([]string{}, h.base...), args...)
	code := ParseAndRun(context.Background(), &stdout, &stderr, strings.NewReader(stdin), all)
	return code, stdout.String(), stderr.String()
}

func TestCLIRoundTrip(t *testing.T) {
	h := newCLIHarness(t)

	code, out, errOut := h.run("", "create", "-id", "2024-01-01-first", "CREATE TABLE cli_items (name TEXT)")
	if code != exitOK {
		t.Fatalf("create exited %d: %s", code, errOut)
	}
	if out != "Created update #2024-01-01-first\n" {
		t.Fatalf("unexpected create output: %q", out)
	}

	code, out, errOut = h.run("INSERT INTO cli_items VALUES ('a');\nINSERT INTO cli_items VALUES ('b');\n", "create")
	if code != exitOK {
		t.Fatalf("create from stdin exited %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "Created update #") {
		t.Fatalf("unexpected create output: %q", out)
	}

	code, out, errOut = h.run("", "status")
	if code != exitOK {
		t.Fatalf("status exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "2024-01-01-first") || !strings.Contains(out, "2 outstanding update(s)") {
		t.Fatalf("unexpected status before run:\n%s", out)
	}

	code, out, errOut = h.run("", "run")
	if code != exitOK {
		t.Fatalf("run exited %d: %s", code, errOut)
	}
	if strings.Count(out, "has been executed.") != 2 {
		t.Fatalf("unexpected run output:\n%s", out)
	}

	code, out, _ = h.run("", "run")
	if code != exitOK || out != "No outstanding updates.\n" {
		t.Fatalf("second run: code %d output %q", code, out)
	}

	code, out, _ = h.run("", "status")
	if code != exitOK || !strings.Contains(out, "executed") || !strings.Contains(out, "0 outstanding update(s)") {
		t.Fatalf("unexpected status after run (code %d):\n%s", code, out)
	}
}

func TestCLIFailures(t *testing.T) {
	h := newCLIHarness(t)

	if code, _, errOut := h.run("", "create", "-id", "2024-01-01-bad", "INSERT INTO missing_table VALUES (1)"); code != exitOK {
		t.Fatalf("create exited %d: %s", code, errOut)
	}

	code, out, _ := h.run("", "run")
	if code != exitOK || !strings.Contains(out, "couldn't execute update with ID 2024-01-01-bad") {
		t.Fatalf("verbose run should print the failure: code %d output %q", code, out)
	}

	code, _, errOut := h.run("", "-silent", "run")
	if code != exitUpdates || !strings.Contains(errOut, "2024-01-01-bad") {
		t.Fatalf("silent run: code %d stderr %q", code, errOut)
	}

	code, _, errOut = h.run("", "exec", "no-such-update")
	if code != exitUpdates || !strings.Contains(errOut, "no-such-update") {
		t.Fatalf("exec unknown: code %d stderr %q", code, errOut)
	}

	code, _, errOut = h.run("", "create", "-id", "2024-01-01-bad", "SELECT 1")
	if code != exitUpdates || !strings.Contains(errOut, "already") {
		t.Fatalf("duplicate create: code %d stderr %q", code, errOut)
	}
}

func TestCLIUsageErrors(t *testing.T) {
	h := newCLIHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"migrate-all"}},
		{name: "unknown flag", args: []string{"-bogus", "run"}},
		{name: "exec without id", args: []string{"exec"}},
		{name: "bad driver", args: []string{"-driver", "oracle", "run"}},
		{name: "bad mode", args: []string{"-mode", "xml", "run"}},
		{name: "bad table", args: []string{"-table", "x;y", "run"}},
		{name: "create without statements", args: []string{"create"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, _ := h.run("", tc.args...); code != exitUsage {
				t.Fatalf("expected exit %d, got %d", exitUsage, code)
			}
		})
	}
}

func TestCLIVersionAndConfigFile(t *testing.T) {
	h := newCLIHarness(t)

	code, out, _ := h.run("", "version")
	if code != exitOK || out != version+"\n" {
		t.Fatalf("version: code %d output %q", code, out)
	}

	dir := t.TempDir()
	store := filepath.Join(dir, "updates.yaml")
	configPath := filepath.Join(dir, "dbupdater.conf")
	content := fmt.Sprintf("dsn %s\nmode yaml\npath %s\nlog-level error\n", filepath.Join(dir, "conf.db"), store)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code = ParseAndRun(context.Background(), &stdout, &stderr, strings.NewReader(""),
		[]string{"-config", configPath, "create", "CREATE TABLE from_config (id INTEGER)"})
	if code != exitOK {
		t.Fatalf("create with config file exited %d: %s", code, stderr.String())
	}

	data, err := os.ReadFile(store)
	if err != nil {
		t.Fatalf("expected YAML store to be written: %v", err)
	}
	if !strings.Contains(string(data), "CREATE TABLE from_config") {
		t.Fatalf("unexpected YAML store:\n%s", data)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: exitOK},
		{err: updates.NewUpdateFailureError("x", errors.New("boom")), want: exitUpdates},
		{err: fmt.Errorf("wrap: %w", updates.ErrInvalidConfig), want: exitUpdates},
		{err: fmt.Errorf("wrap: %w", updates.ErrTableSetup), want: exitDatabase},
		{err: updates.ErrLocked, want: exitDatabase},
		{err: context.Canceled, want: exitDatabase},
	}
	for _, tc := range tests {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
