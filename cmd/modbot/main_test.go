package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"modbot/internal/errs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReprimandIssueCommand(t *testing.T) {
	out, err := execute(t, "reprimand", "issue", "1001", "--reason", "spam", "--issuer", "9")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.Contains(out, "issued oral reprimand") || !strings.Contains(out, "active: 1 oral, 0 strict") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestReprimandIssueRejectsKind(t *testing.T) {
	_, err := execute(t, "reprimand", "issue", "1001", "--kind", "verbal", "--reason", "x", "--issuer", "9")
	if exitCode(err) != 2 {
		t.Fatalf("expected validation exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestEventStatusCommand(t *testing.T) {
	out, err := execute(t, "event", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatalf("empty status output")
	}
}

func TestRemoveOnEmptyLedgerIsNotFound(t *testing.T) {
	_, err := execute(t, "reprimand", "remove", "1001")
	if exitCode(err) != 3 {
		t.Fatalf("expected not-found exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestStatsImportCommand(t *testing.T) {
	out, err := execute(t, "stats", "import", "Alice | #101 | 1 ч. 0 м. | 2 oops", "--importer", "9")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 1 lines: 101") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestStatsCommandErrors(t *testing.T) {
	cases := []struct {
		args []string
		code int
	}{
		{args: []string{"stats", "import", "--importer", "9"}, code: 2},
		{args: []string{"stats", "show", "5001"}, code: 3},
		{args: []string{"stats", "link", "101", "--user", "5001"}, code: 4},
		{args: []string{"stats", "show", "5001", "--since", "yesterday"}, code: 2},
	}
	for _, tc := range cases {
		_, err := execute(t, tc.args...)
		if got := exitCode(err); got != tc.code {
			t.Fatalf("%v: exit code %d, want %d (%v)", tc.args, got, tc.code, err)
		}
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.E("op", errs.ErrValidation, "bad"), 2},
		{errs.E("op", errs.ErrPastTime, "late"), 2},
		{errs.E("op", errs.ErrNotFound, "gone"), 3},
		{fmt.Errorf("wrapped: %w", errs.E("op", errs.ErrForbidden, "no")), 4},
		{errs.E("op", errs.ErrWindowExpired, "old"), 4},
		{fmt.Errorf("boom"), 1},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Fatalf("%v: got %d want %d", c.err, got, c.want)
		}
	}
}
