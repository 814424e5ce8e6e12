package rules

import (
	"strings"

	"github.com/orneryd/rulechain/pkg/fact"
)

// Rule is a propositional implication: the conjunction of Premise implies
// Conclusion.
type Rule struct {
	ID         RuleID
	Premise    []fact.Fact // deduplicated, declared order
	Conclusion fact.Fact
	Note       string
}

// New builds a rule from raw strings, normalizing every fact and dropping
// duplicate premises. It does not validate; Build does.
func New(id string, premise []string, conclusion, note string) Rule {
	r := Rule{
		ID:   RuleID(strings.TrimSpace(id)),
		Note: strings.TrimSpace(note),
	}
	seen := fact.NewSet()
	for _, p := range premise {
		f, ok := fact.Normalize(p)
		if !ok || !seen.Add(f) {
			continue
		}
		r.Premise = append(r.Premise, f)
	}
	if c, ok := fact.Normalize(conclusion); ok {
		r.Conclusion = c
	}
	return r
}

// PremiseSet returns the premise as a set.
func (r Rule) PremiseSet() fact.Set {
	return fact.NewSet(r.Premise...)
}

// HasPremise reports whether f is one of the rule's premises.
func (r Rule) HasPremise(f fact.Fact) bool {
	for _, p := range r.Premise {
		if p == f {
			return true
		}
	}
	return false
}

// Describe returns the note, or a generated one when the author left it empty.
func (r Rule) Describe() string {
	if r.Note != "" {
		return r.Note
	}
	return "derive " + string(r.Conclusion) + " from " + strings.Join(fact.ToStrings(r.Premise), ", ")
}

// String renders the rule as "r1: {A, B} -> C".
func (r Rule) String() string {
	return r.ID.Label() + ": {" + strings.Join(fact.ToStrings(r.Premise), ", ") + "} -> " + string(r.Conclusion)
}
