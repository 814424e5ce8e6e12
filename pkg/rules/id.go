package rules

import (
	"sort"
	"strings"
)

// RuleID identifies a rule. Ids are either positive integers written in
// decimal ("1", "12") or free-form labels ("pythagoras").
type RuleID string

// isNumeric reports whether id consists only of ASCII digits.
func (id RuleID) isNumeric() bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// Compare orders rule ids: numeric ids by value, before every label;
// labels lexicographically. Returns -1, 0 or +1.
//
// This is the single ordering behind every "lowest rule id first"
// decision in the engines, so it must stay total.
func Compare(a, b RuleID) int {
	an, bn := a.isNumeric(), b.isNumeric()
	switch {
	case an && bn:
		as := strings.TrimLeft(string(a), "0")
		bs := strings.TrimLeft(string(b), "0")
		if len(as) != len(bs) {
			if len(as) < len(bs) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(as, bs); c != 0 {
			return c
		}
		// "01" and "1" have equal value; fall back to the raw text.
		return strings.Compare(string(a), string(b))
	case an:
		return -1
	case bn:
		return 1
	default:
		return strings.Compare(string(a), string(b))
	}
}

// Less reports whether id sorts before other.
func (id RuleID) Less(other RuleID) bool {
	return Compare(id, other) < 0
}

// Label renders the id the way process tables show it ("r3").
func (id RuleID) Label() string {
	return "r" + string(id)
}

// SortIDs sorts ids in place by Compare.
func SortIDs(ids []RuleID) {
	sort.Slice(ids, func(i, j int) bool { return Compare(ids[i], ids[j]) < 0 })
}

// IDStrings converts ids to plain strings, keeping order.
func IDStrings(ids []RuleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
