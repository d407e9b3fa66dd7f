// Package security validates externally supplied identifiers before they
// reach logs, file names or database rows.
package security

import (
	"fmt"
	"strings"
)

const maxIdentifierLen = 64

// ValidateCameraID checks a camera identifier from a query parameter.
// Cameras are named by operators, so the charset is restricted to ASCII
// letters, digits, dot, underscore and dash. An identifier that embeds path
// separators or control characters is rejected before it can reach a log
// line or a filename.
func ValidateCameraID(id string) error {
	if id == "" {
		return fmt.Errorf("camera identifier is empty")
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("camera identifier exceeds %d characters", maxIdentifierLen)
	}
	for _, r := range id {
		if !identifierRune(r) {
			return fmt.Errorf("camera identifier contains invalid character %q", r)
		}
	}
	return nil
}

// ValidateZoneID checks a zone identifier taken from a URL path segment.
// Zone IDs are engine-assigned UUIDs, so the same charset applies.
func ValidateZoneID(id string) error {
	if id == "" {
		return fmt.Errorf("zone identifier is empty")
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("zone identifier exceeds %d characters", maxIdentifierLen)
	}
	for _, r := range id {
		if !identifierRune(r) {
			return fmt.Errorf("zone identifier contains invalid character %q", r)
		}
	}
	return nil
}

func identifierRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}

// SanitizeFilename makes a safe filename component from an arbitrary string.
// Characters outside the identifier charset become underscores, repeats are
// collapsed, and the result is length-bounded. Used when embedding the
// configured database name into the backup download filename.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		if identifierRune(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
