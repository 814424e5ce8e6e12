// Package rules holds the validated, indexed rule set one inference call
// runs against.
//
// A Store is built once per call from caller-supplied rules and is never
// mutated afterwards, so any number of goroutines may read the same Store.
// There is no process-wide rule list: the next call simply builds a new one.
//
// Example Usage:
//
//	store, err := rules.Build([]rules.Rule{
//		rules.New("1", []string{"A", "B"}, "C", ""),
//		rules.New("2", []string{"C"}, "D", ""),
//	})
//	if err != nil {
//		// errors.Is(err, rules.ErrDuplicateRuleID) etc.
//		return err
//	}
//
//	for _, id := range store.RulesWithConclusion("D") {
//		fmt.Println(store.MustGet(id))
//	}
//
// Validation reports every problem, not just the first, joined with
// errors.Join. Each problem is a *RuleError wrapping one of the sentinel
// errors below.
package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/orneryd/rulechain/pkg/fact"
)

// Validation errors.
var (
	ErrDuplicateRuleID = errors.New("duplicate rule id")
	ErrEmptyPremise    = errors.New("empty premise")
	ErrSelfReferential = errors.New("conclusion appears in its own premise")
	ErrEmptyRuleID     = errors.New("empty rule id")
	ErrEmptyConclusion = errors.New("empty conclusion")
	ErrNoRules         = errors.New("no rules")
)

// RuleError describes one problem with one rule.
type RuleError struct {
	// Index is the position of the rule in the input slice.
	Index int
	ID    RuleID
	Err   error
}

func (e *RuleError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("rule #%d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("rule %s: %v", e.ID.Label(), e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Problems flattens an error returned by Build into its individual
// *RuleError values. Other errors are returned as a single-element slice.
func Problems(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// Store is an immutable, indexed view of a rule set.
type Store struct {
	rules        []Rule // id order
	byID         map[RuleID]int
	byConclusion map[fact.Fact][]RuleID
	byPremise    map[fact.Fact][]RuleID
}

// Build validates rules and indexes them.
//
// The returned Store keeps its own copy of every rule; later changes to the
// caller's slice do not leak in.
func Build(in []Rule) (*Store, error) {
	if len(in) == 0 {
		return nil, ErrNoRules
	}

	var problems []error
	seen := make(map[RuleID]int, len(in))
	valid := make([]Rule, 0, len(in))

	for i, r := range in {
		ok := true
		report := func(err error) {
			problems = append(problems, &RuleError{Index: i, ID: r.ID, Err: err})
			ok = false
		}

		if r.ID == "" {
			report(ErrEmptyRuleID)
		} else if first, dup := seen[r.ID]; dup {
			report(fmt.Errorf("%w (first defined at position %d)", ErrDuplicateRuleID, first+1))
		} else {
			seen[r.ID] = i
		}
		if len(r.Premise) == 0 {
			report(ErrEmptyPremise)
		}
		if r.Conclusion == "" {
			report(ErrEmptyConclusion)
		} else if r.HasPremise(r.Conclusion) {
			report(ErrSelfReferential)
		}

		if ok {
			c := r
			c.Premise = append([]fact.Fact(nil), r.Premise...)
			valid = append(valid, c)
		}
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	sort.SliceStable(valid, func(i, j int) bool { return Compare(valid[i].ID, valid[j].ID) < 0 })

	s := &Store{
		rules:        valid,
		byID:         make(map[RuleID]int, len(valid)),
		byConclusion: make(map[fact.Fact][]RuleID),
		byPremise:    make(map[fact.Fact][]RuleID),
	}
	// Rules are visited in id order, so every index list is already sorted.
	for i, r := range valid {
		s.byID[r.ID] = i
		s.byConclusion[r.Conclusion] = append(s.byConclusion[r.Conclusion], r.ID)
		for _, p := range r.Premise {
			s.byPremise[p] = append(s.byPremise[p], r.ID)
		}
	}
	return s, nil
}

// Len returns the number of rules.
func (s *Store) Len() int { return len(s.rules) }

// Rules returns every rule in id order. The slice must not be modified.
func (s *Store) Rules() []Rule { return s.rules }

// IDs returns every rule id in ascending order.
func (s *Store) IDs() []RuleID {
	ids := make([]RuleID, len(s.rules))
	for i, r := range s.rules {
		ids[i] = r.ID
	}
	return ids
}

// Get looks a rule up by id.
func (s *Store) Get(id RuleID) (Rule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Rule{}, false
	}
	return s.rules[i], true
}

// MustGet is Get for ids known to exist, such as ids taken from the Store's
// own indexes. Panics otherwise.
func (s *Store) MustGet(id RuleID) Rule {
	r, ok := s.Get(id)
	if !ok {
		panic(fmt.Sprintf("rules: unknown rule id %q", id))
	}
	return r
}

// RulesWithConclusion returns the ids of rules concluding f, lowest first.
func (s *Store) RulesWithConclusion(f fact.Fact) []RuleID {
	return s.byConclusion[f]
}

// RulesWithPremise returns the ids of rules whose premise contains f,
// lowest first.
func (s *Store) RulesWithPremise(f fact.Fact) []RuleID {
	return s.byPremise[f]
}

// IsSatisfied reports whether every premise of r is in known.
func (s *Store) IsSatisfied(r Rule, known fact.Set) bool {
	return known.ContainsAll(r.Premise)
}

// IsConcluded reports whether any rule concludes f.
func (s *Store) IsConcluded(f fact.Fact) bool {
	return len(s.byConclusion[f]) > 0
}

// Facts returns every fact mentioned by any premise or conclusion.
func (s *Store) Facts() fact.Set {
	all := fact.NewSet()
	for _, r := range s.rules {
		all.Add(r.Conclusion)
		for _, p := range r.Premise {
			all.Add(p)
		}
	}
	return all
}
