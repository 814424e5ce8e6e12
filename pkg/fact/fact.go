// Package fact provides the atomic fact identity used by the rule engines.
//
// A Fact is an opaque string. Two facts are equal when their trimmed text is
// byte-for-byte identical; case is significant, so "A" and "a" are different
// facts. Normalization happens once, at the boundary, through Normalize or
// FromStrings. Everything downstream compares facts with ==.
//
// Example Usage:
//
//	known := fact.FromStrings([]string{" A", "B "})
//	known.Add("C")
//
//	goals := fact.NewSet("C")
//	if goals.IsSubsetOf(known) {
//		fmt.Println("reached:", known.Sorted())
//	}
package fact

import (
	"sort"
	"strings"
)

// Fact is an interned proposition identifier.
type Fact string

// Normalize trims surrounding whitespace from s.
// Returns false when nothing is left.
func Normalize(s string) (Fact, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", false
	}
	return Fact(t), true
}

// String implements fmt.Stringer.
func (f Fact) String() string { return string(f) }

// Set is an unordered collection of facts.
//
// The zero value is not usable; create sets with NewSet or FromStrings.
type Set map[Fact]struct{}

// NewSet returns a set holding the given facts.
func NewSet(facts ...Fact) Set {
	s := make(Set, len(facts))
	for _, f := range facts {
		s[f] = struct{}{}
	}
	return s
}

// FromStrings normalizes raw strings into a set, dropping blanks.
func FromStrings(raw []string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		if f, ok := Normalize(r); ok {
			s[f] = struct{}{}
		}
	}
	return s
}

// Add inserts f. Returns true when f was not already present.
func (s Set) Add(f Fact) bool {
	if _, ok := s[f]; ok {
		return false
	}
	s[f] = struct{}{}
	return true
}

// Remove deletes f from the set.
func (s Set) Remove(f Fact) {
	delete(s, f)
}

// Has reports whether f is a member.
func (s Set) Has(f Fact) bool {
	_, ok := s[f]
	return ok
}

// Len returns the number of facts.
func (s Set) Len() int { return len(s) }

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for f := range s {
		c[f] = struct{}{}
	}
	return c
}

// Union returns a new set holding the members of s and other.
func (s Set) Union(other Set) Set {
	u := make(Set, len(s)+len(other))
	for f := range s {
		u[f] = struct{}{}
	}
	for f := range other {
		u[f] = struct{}{}
	}
	return u
}

// Difference returns the members of s that are not in other.
func (s Set) Difference(other Set) Set {
	d := make(Set)
	for f := range s {
		if !other.Has(f) {
			d[f] = struct{}{}
		}
	}
	return d
}

// IsSubsetOf reports whether every member of s is in big.
// The empty set is a subset of every set.
func (s Set) IsSubsetOf(big Set) bool {
	if len(s) > len(big) {
		return false
	}
	for f := range s {
		if !big.Has(f) {
			return false
		}
	}
	return true
}

// ContainsAll reports whether every fact in facts is a member.
func (s Set) ContainsAll(facts []Fact) bool {
	for _, f := range facts {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold exactly the same facts.
func (s Set) Equal(other Set) bool {
	return len(s) == len(other) && s.IsSubsetOf(other)
}

// Sorted returns the members in ascending byte order.
func (s Set) Sorted() []Fact {
	out := make([]Fact, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members as sorted plain strings, for JSON output.
func (s Set) Strings() []string {
	return ToStrings(s.Sorted())
}

// ToStrings converts facts to plain strings, keeping order.
func ToStrings(facts []Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = string(f)
	}
	return out
}
