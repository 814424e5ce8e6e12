package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// Backward tries to prove goals from initial by expanding each unproven goal
// into the premise of a rule concluding it, depth first.
//
// Goals and premises are expanded in ascending fact order. The rules
// concluding a fact are tried lowest id first, except that when exactly one of
// them is already grounded (its whole premise is initial or proven) that one
// goes first. When an alternative fails it is withdrawn, the search state is
// restored and the next alternative is tried.
//
// A fact that reappears while it is still being expanded is a cycle and fails
// that branch with CyclicDependency; a fact no rule concludes fails with
// UnresolvableGoal. The reported failure is the cause behind the last
// alternative tried for the goal that could not be proven. The cycle guard
// bounds the search depth by the number of facts, so Backward terminates.
//
// On success the discovery-order trace is pruned with Prune to obtain a
// forward application order.
func Backward(ctx context.Context, store *rules.Store, initial, goals fact.Set) (*BackwardResult, error) {
	s := newBackwardSearch(ctx, store, initial, goals)
	ok, err := s.run()
	if err != nil {
		return nil, err
	}

	res := &BackwardResult{
		Success:      ok,
		InitialFacts: initial.Sorted(),
		Goals:        goals.Sorted(),
		FullTrace:    s.trace,
		Derivation:   s.derivation,
		ProcessTable: s.rows,
		TraceDisplay: s.display,
		AppliedRules: s.applied,
	}
	if !ok {
		res.Failure = s.failure
		return res, nil
	}

	optimal, err := Prune(store, s.trace, initial, goals)
	if err != nil {
		return nil, err
	}
	res.OptimalTrace = optimal
	res.RemovedRules = removedRules(s.trace, optimal)
	res.Explanation = Explain(store, optimal, goals)
	return res, nil
}

// Trace runs the backward search and returns only its goal-set display, as
// rendered by the trace view.
func Trace(ctx context.Context, store *rules.Store, initial, goals fact.Set) (*TraceResult, error) {
	s := newBackwardSearch(ctx, store, initial, goals)
	ok, err := s.run()
	if err != nil {
		return nil, err
	}
	res := &TraceResult{
		Success:      ok,
		Trace:        s.display,
		AppliedRules: s.applied,
	}
	if !ok {
		res.Failure = s.failure
	}
	return res, nil
}

// =============================================================================
// Search state
// =============================================================================

type backwardSearch struct {
	ctx     context.Context
	store   *rules.Store
	initial fact.Set
	goals   fact.Set

	proven  fact.Set               // initial plus facts proven so far
	pending fact.Set               // goals still to prove, for display
	active  map[fact.Fact]bool
	dead    map[fact.Fact]*Failure // underivable facts and why

	trace      []rules.RuleID
	derivation []Derivation
	display    []TraceStep
	applied    []AppliedRule
	rows       []BackwardRow
	step       int

	failure *Failure
}

type searchMark struct {
	trace, derivation, display, applied int
	proven, pending                     fact.Set
}

func newBackwardSearch(ctx context.Context, store *rules.Store, initial, goals fact.Set) *backwardSearch {
	return &backwardSearch{
		ctx:        ctx,
		store:      store,
		initial:    initial,
		goals:      goals,
		proven:     initial.Clone(),
		pending:    goals.Difference(initial),
		active:     make(map[fact.Fact]bool),
		dead:       make(map[fact.Fact]*Failure),
		trace:      []rules.RuleID{},
		derivation: []Derivation{},
		applied:    []AppliedRule{},
	}
}

func (s *backwardSearch) run() (bool, error) {
	goalList := s.goals.Sorted()
	s.display = []TraceStep{{
		Set:    displaySet(goalList),
		Action: "START",
	}}
	s.record(MarkerInit,
		fmt.Sprintf("initialize: KL = {%s}, GT = {%s}", joinFacts(goalList), joinFacts(s.initial.Sorted())),
		"start backward chaining")

	for _, g := range goalList {
		ok, _, err := s.prove(g)
		if err != nil {
			return false, err
		}
		if !ok {
			s.record(MarkerFail, s.failure.Message, "goal cannot be proven")
			return false, nil
		}
	}

	s.record(MarkerDone,
		fmt.Sprintf("all goals {%s} reduced to initial facts", joinFacts(goalList)),
		"proof complete")
	return true, nil
}

// prove reports whether f can be proven. cyclic is true when the outcome
// depended on the active expansion stack, in which case the failure must not
// be remembered.
func (s *backwardSearch) prove(f fact.Fact) (ok, cyclic bool, err error) {
	if s.proven.Has(f) {
		s.pending.Remove(f)
		return true, false, nil
	}
	if cause, ok := s.dead[f]; ok {
		s.failure = cause
		return false, false, nil
	}
	if s.active[f] {
		s.fail(CyclicDependency, f, fmt.Sprintf("cyclic dependency: %q depends on itself", f))
		s.record(MarkerBlocked, fmt.Sprintf("%s is already being expanded", f), "cycle")
		return false, true, nil
	}
	if err := s.ctx.Err(); err != nil {
		return false, false, err
	}

	candidates := s.order(s.store.RulesWithConclusion(f))
	if len(candidates) == 0 {
		s.fail(UnresolvableGoal, f, fmt.Sprintf("no rule concludes %q", f))
		s.record(MarkerBlocked, fmt.Sprintf("no rule concludes %s", f), fmt.Sprintf("%s is not derivable", f))
		s.dead[f] = s.failure
		return false, false, nil
	}

	s.active[f] = true
	defer delete(s.active, f)

	for _, id := range candidates {
		r := s.store.MustGet(id)
		mark := s.mark()
		s.substitute(f, r)

		proved := true
		for _, p := range r.PremiseSet().Sorted() {
			pok, pcyc, err := s.prove(p)
			if err != nil {
				return false, false, err
			}
			cyclic = cyclic || pcyc
			if !pok {
				proved = false
				break
			}
		}
		if proved {
			s.proven.Add(f)
			return true, cyclic, nil
		}

		s.restore(mark)
		s.record(MarkerBacktrack, fmt.Sprintf("withdraw %s for %s", r.ID.Label(), f), "alternative failed")
	}

	if !cyclic {
		s.dead[f] = s.failure
	}
	return false, cyclic, nil
}

// order puts the single grounded candidate first, if there is exactly one.
func (s *backwardSearch) order(ids []rules.RuleID) []rules.RuleID {
	grounded := -1
	for i, id := range ids {
		if s.proven.ContainsAll(s.store.MustGet(id).Premise) {
			if grounded >= 0 {
				return ids
			}
			grounded = i
		}
	}
	if grounded <= 0 {
		return ids
	}
	out := make([]rules.RuleID, 0, len(ids))
	out = append(out, ids[grounded])
	out = append(out, ids[:grounded]...)
	return append(out, ids[grounded+1:]...)
}

func (s *backwardSearch) substitute(f fact.Fact, r rules.Rule) {
	s.pending.Remove(f)
	for _, p := range r.Premise {
		if !s.proven.Has(p) {
			s.pending.Add(p)
		}
	}
	s.trace = append(s.trace, r.ID)
	s.derivation = append(s.derivation, Derivation{Fact: f, Rule: r.ID})

	id := r.ID
	s.display = append(s.display, TraceStep{
		Set:    displaySet(s.pending.Sorted()),
		Rule:   &id,
		Action: fmt.Sprintf("replace %s with [%s]", f, joinFacts(r.Premise)),
		Note:   r.Describe(),
	})
	s.applied = append(s.applied, AppliedRule{
		Rule:       r.ID,
		Premise:    r.Premise,
		Conclusion: f,
		Note:       r.Describe(),
	})
	s.record(r.ID.Label(),
		fmt.Sprintf("apply %s: {%s} -> %s", r.ID.Label(), joinFacts(r.Premise), f),
		r.Describe())
}

func (s *backwardSearch) mark() searchMark {
	return searchMark{
		trace:      len(s.trace),
		derivation: len(s.derivation),
		display:    len(s.display),
		applied:    len(s.applied),
		proven:     s.proven.Clone(),
		pending:    s.pending.Clone(),
	}
}

func (s *backwardSearch) restore(m searchMark) {
	s.trace = s.trace[:m.trace]
	s.derivation = s.derivation[:m.derivation]
	s.display = s.display[:m.display]
	s.applied = s.applied[:m.applied]
	s.proven = m.proven
	s.pending = m.pending
}

// fail records the latest failure. A later alternative's failure replaces
// an earlier one, so the goal's final cause is the one left.
func (s *backwardSearch) fail(kind FailureKind, f fact.Fact, msg string) {
	s.failure = &Failure{Kind: kind, Fact: f, Message: msg}
}

func (s *backwardSearch) record(marker, explanation, note string) {
	s.rows = append(s.rows, BackwardRow{
		Step:         s.step,
		Rule:         marker,
		CurrentGoals: s.pending.Sorted(),
		Initial:      s.initial.Sorted(),
		Trace:        cloneIDs(s.trace),
		Explanation:  explanation,
		Note:         note,
	})
	s.step++
}

func displaySet(facts []fact.Fact) []string {
	if len(facts) == 0 {
		return []string{EmptySet}
	}
	return fact.ToStrings(facts)
}

func joinFacts(facts []fact.Fact) string {
	return strings.Join(fact.ToStrings(facts), ", ")
}
