// Package posting implements the normalised, deduplicated posting catalog
// and the feed ingestion that fills it.
package posting

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Fingerprint derives the dedup key for a posting from its normalised
// (employer, title, location) tuple, so the same role listed on several
// boards collapses to one catalog entry.
func Fingerprint(employer, title, location string) string {
	key := normalize(employer) + "|" + normalize(title) + "|" + normalize(location)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// normalize lowercases, strips everything but letters/digits/spaces, and
// collapses whitespace runs so cosmetic differences between sources do not
// break deduplication.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '/':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}
