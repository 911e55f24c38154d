// Package sanitize turns definition ids into chromem collection names.
//
// Collection names are kept to ^[a-z0-9_]{1,64}$ so they stay valid file
// names for the persistent store on every platform.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length of a collection name.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the "_<8 hex>" disambiguation suffix.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization leaves nothing.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, replaces anything outside [a-z0-9_] with an
// underscore, collapses and trims underscores, and truncates with a hash
// suffix past MaxIdentifierLength.
//
//	"Sentinel Audit" -> "sentinel_audit"
//	"" or "!!!"      -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = withHash(out[:MaxIdentifierLength-HashSuffixLength], s)
	}
	return out
}

// Collection builds "<prefix>_<id>" for a collection name. When sanitizing
// changed id, a hash of the original is appended so ids differing only in
// punctuation or case ("a-b", "a_b", "A_B") never share a collection.
func Collection(prefix, id string) string {
	clean := Identifier(id)
	name := Identifier(prefix) + "_" + clean
	if clean == id && len(name) <= MaxIdentifierLength {
		return name
	}
	base := name
	if len(base) > MaxIdentifierLength-HashSuffixLength {
		base = base[:MaxIdentifierLength-HashSuffixLength]
	}
	return withHash(base, id)
}

// withHash appends "_<first 8 hex of sha256(original)>" to base.
func withHash(base, original string) string {
	sum := sha256.Sum256([]byte(original))
	return strings.TrimRight(base, "_") + "_" + hex.EncodeToString(sum[:])[:8]
}
