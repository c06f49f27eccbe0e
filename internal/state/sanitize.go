package state

import "strings"

// SanitizeKey maps a platform identifier to a storage key made only of
// [A-Za-z0-9_.-]; every other rune becomes '_'. Distinct identifiers may map
// to the same key, in which case they share one record (last write wins).
func SanitizeKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
