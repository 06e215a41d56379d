package naming_test

import (
	"strings"
	"testing"

	"reel/internal/naming"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"passthrough", "My Clip", "My Clip"},
		{"slashes to dashes", "a/b\\c", "a-b-c"},
		{"strips colons", "Live: Part 1", "Live- Part 1"},
		{"removes quotes and brackets", `He said "go" <now>`, "He said go now"},
		{"empty", "   ", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := naming.SanitizeFileName(tc.input); got != tc.want {
				t.Fatalf("SanitizeFileName(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestTitle(t *testing.T) {
	if got := naming.Title("  the   quick  brown fox "); got != "The Quick Brown Fox" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := naming.Title(""); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
}

func TestArtifactBase(t *testing.T) {
	if got := naming.ArtifactBase("Live: Part 1", "item-7"); got != "Live- Part 1" {
		t.Fatalf("unexpected base: %q", got)
	}
	if got := naming.ArtifactBase("///", "item-7"); got != "item-7" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := naming.ArtifactBase("", ""); got != "item" {
		t.Fatalf("expected default, got %q", got)
	}
	long := strings.Repeat("a", 400)
	if got := naming.ArtifactBase(long, "x"); len(got) > 120 {
		t.Fatalf("expected truncation, got %d chars", len(got))
	}
}
