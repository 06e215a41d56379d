// Package naming derives filesystem-safe artifact names from media titles.
package naming

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe
// alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing
// whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// Title normalizes a media title for display: collapsed whitespace with
// title-cased words.
func Title(raw string) string {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return ""
	}
	return cases.Title(language.Und).String(raw)
}

// ArtifactBase produces the base name (no extension) used for every artifact
// belonging to an item. Falls back to the provided default when the title
// sanitizes to nothing.
func ArtifactBase(title, fallback string) string {
	base := SanitizeFileName(title)
	if base == "" {
		base = fallback
	}
	if base == "" {
		base = "item"
	}
	const maxBase = 120
	if len(base) > maxBase {
		base = strings.TrimSpace(base[:maxBase])
	}
	return base
}
