package core

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxQueryLength bounds place-name input before any lookup.
	MaxQueryLength = 100

	// MaxPlaceNameLength caps sanitized display names.
	MaxPlaceNameLength = 50

	// MaxActorIDLength follows the game's username limit.
	MaxActorIDLength = 16
)

var (
	actorIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,16}$`)
	queryPattern   = regexp.MustCompile(`^[a-zA-ZÀ-ÿ0-9\s\-'.,]+$`)

	suspiciousSubstrings = []string{
		"javascript:", "data:text/html", "<script", "<iframe",
		"onload=", "onerror=", "eval(", "document.cookie",
		"../", "..\\", "file://", "ftp://",
		"drop table", "delete from", "union select",
		"exec(", "system(", "cmd.exe", "/bin/sh",
	}
)

// NormalizeQuery produces the canonical lookup key for a place name:
// trimmed, lowercased, inner whitespace collapsed. Cache keys, offline
// lookups, and persistence keys all use this form.
func NormalizeQuery(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ValidateQuery checks a raw place-name query before it reaches any
// cache, store, or network tier.
func ValidateQuery(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return InvalidInput("place name is required")
	}
	if len([]rune(trimmed)) > MaxQueryLength {
		return InvalidInput("place name too long")
	}
	if !queryPattern.MatchString(trimmed) {
		return InvalidInput("place name contains invalid characters")
	}
	if SuspiciousInput(trimmed) {
		return InvalidInput("place name contains suspicious pattern")
	}
	if !strings.ContainsFunc(trimmed, unicode.IsLetter) {
		return InvalidInput("place name must contain a letter")
	}
	return nil
}

// SuspiciousInput reports whether the input matches known injection or
// traversal patterns. Matching inputs never reach network or storage.
func SuspiciousInput(input string) bool {
	lower := strings.ToLower(input)
	for _, pattern := range suspiciousSubstrings {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	// The query allow-list permits dots and commas individually; doubled
	// separators are still traversal-shaped.
	return strings.Contains(lower, "..") || strings.Contains(lower, "//") || strings.Contains(lower, "\\")
}

// ValidatePlaceLabel checks a place label against the query allow-list
// and the persisted length cap before it reaches the ledger.
func ValidatePlaceLabel(label string) error {
	if err := ValidateQuery(label); err != nil {
		return err
	}
	if len([]rune(strings.TrimSpace(label))) > MaxPlaceNameLength {
		return InvalidInput("place label too long")
	}
	return nil
}

// ValidateActorID checks an opaque actor identifier against the strict
// allow-list used by the ledger and the governor.
func ValidateActorID(actor string) error {
	if !actorIDPattern.MatchString(actor) {
		return InvalidInput("actor id is invalid")
	}
	return nil
}

// SanitizeActorID strips disallowed characters and caps the length.
func SanitizeActorID(actor string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(actor) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > MaxActorIDLength {
		out = out[:MaxActorIDLength]
	}
	return strings.ToLower(out)
}

// SanitizePlaceName strips markup-significant and control characters
// from a display name and caps its length. Empty results become
// "Unknown" so callers always have something renderable.
func SanitizePlaceName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch r {
		case '<', '>', '"', '\'', '&':
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	if runes := []rune(out); len(runes) > MaxPlaceNameLength {
		out = string(runes[:MaxPlaceNameLength])
	}
	if out == "" {
		return "Unknown"
	}
	return out
}
