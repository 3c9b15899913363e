package scanner

import "strings"

// MatchesPrefix reports whether addr (a canonical "AA:BB:CC:DD:EE:FF"
// string) starts with one of prefixes, compared byte-for-byte over the
// leading characters of the prefix string. Open Question resolved in
// DESIGN.md: spec.md §9 notes the legacy implementation disagreed with
// itself between a 4-hex-digit rule and a first-two/last-two-byte
// rule; this implementation uses a single, simple prefix-only
// comparison, matching what spec.md §8's scenario S4 expects.
func MatchesPrefix(addr string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	addr = strings.ToUpper(addr)
	for _, p := range prefixes {
		if strings.HasPrefix(addr, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}
