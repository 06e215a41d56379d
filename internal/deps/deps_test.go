package deps_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reel/internal/deps"
)

func TestCheckResolvesBinaryOnPath(t *testing.T) {
	binDir := t.TempDir()
	target := filepath.Join(binDir, "fake-tool")
	if err := os.WriteFile(target, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	status := deps.Requirement{Name: "Fake", Command: " fake-tool "}.Check()
	if !status.Available {
		t.Fatalf("expected available, got %+v", status)
	}
	if status.Path != target {
		t.Fatalf("expected resolved path %s, got %s", target, status.Path)
	}
	if status.Command != "fake-tool" {
		t.Fatalf("expected trimmed command, got %q", status.Command)
	}
}

func TestCheckReportsMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	status := deps.Requirement{Name: "Gone", Command: "no-such-tool"}.Check()
	if status.Available {
		t.Fatalf("expected unavailable, got %+v", status)
	}
	if !strings.Contains(status.Detail, "not on PATH") {
		t.Fatalf("unexpected detail: %q", status.Detail)
	}
}

func TestCheckReportsUnconfiguredCommand(t *testing.T) {
	status := deps.Requirement{Name: "Blank"}.Check()
	if status.Available {
		t.Fatalf("expected unavailable, got %+v", status)
	}
	if status.Detail != "no command configured" {
		t.Fatalf("unexpected detail: %q", status.Detail)
	}
}

func TestCheckBinariesMatchesInputOrder(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "First", Command: "first-tool"},
		{Name: "Second", Command: "second-tool", Optional: true},
	})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "First" || statuses[1].Name != "Second" {
		t.Fatalf("order not preserved: %+v", statuses)
	}
	if !statuses[1].Optional {
		t.Fatal("expected optional flag carried through")
	}
}
