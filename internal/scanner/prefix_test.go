package scanner

import "testing"

func TestMatchesPrefixScenarioS4(t *testing.T) {
	prefixes := []string{"AA:BB"}
	if MatchesPrefix("CC:DD:EE:FF:00:01", prefixes) {
		t.Fatal("CC:DD:EE:FF:00:01 must not match prefix set {AA:BB}")
	}
	if !MatchesPrefix("AA:BB:EE:FF:00:01", prefixes) {
		t.Fatal("AA:BB:EE:FF:00:01 must match prefix set {AA:BB}")
	}
}

func TestMatchesPrefixCaseInsensitive(t *testing.T) {
	if !MatchesPrefix("aa:bb:cc:dd:ee:ff", []string{"AA:BB"}) {
		t.Fatal("prefix match must be case-insensitive")
	}
}

func TestMatchesPrefixEmptyListAcceptsAll(t *testing.T) {
	if !MatchesPrefix("00:11:22:33:44:55", nil) {
		t.Fatal("an empty prefix list must accept every address")
	}
}
