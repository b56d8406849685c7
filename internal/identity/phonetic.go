package identity

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// sameNameJWThreshold is the Jaro-Winkler similarity above which two names
// that also share a Double Metaphone code are treated as the same name.
// Catches STT spelling drift like "Jon" vs "John" or "Sara" vs "Sarah".
const sameNameJWThreshold = 0.84

// SameName reports whether two enrollment names refer to the same person.
// Exact case-insensitive equality always matches; otherwise both a phonetic
// code overlap and a high string similarity are required, so "Dan" and "Don"
// (phonetically close but clearly distinct) stay separate people.
func SameName(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	if !codesOverlap(ap, as, bp, bs) {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= sameNameJWThreshold
}

func codesOverlap(ap, as, bp, bs string) bool {
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || (bs != "" && x == bs) {
			return true
		}
	}
	return false
}
