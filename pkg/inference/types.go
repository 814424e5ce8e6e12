// Package inference implements the deduction engines that run over a rule
// Store: forward chaining to a fixpoint, goal-directed backward chaining, and
// extraction of the optimal (minimal, forward-ordered) rule trace.
//
// Every entry point is a pure function of (store, initial facts, goals). No
// state survives between calls, so any number of calls may run at once as
// long as each is handed its own fact sets. A Store is read-only and may be
// shared freely.
//
// Example Usage:
//
//	store, err := rules.Build([]rules.Rule{
//		rules.New("1", []string{"A", "B"}, "C", ""),
//		rules.New("2", []string{"C"}, "D", ""),
//	})
//	if err != nil {
//		return err
//	}
//
//	res, err := inference.Forward(ctx, store, fact.NewSet("A", "B"), fact.NewSet("D"))
//	if err != nil {
//		return err // ErrInconsistent or ctx.Err()
//	}
//	if !res.Success {
//		fmt.Println(res.Failure) // saturation_exhausted: ...
//	}
//	fmt.Println(res.OptimalTrace) // [1 2]
//
// Ordinary failures (the goals are not derivable) are reported in the result,
// never as errors, so callers can still show the process table. A non-nil error
// means either the context ended or an engine invariant broke.
//
// Terminology:
//   - GT: initial facts
//   - KL: goals
//   - VET: an ordered sequence of rule applications (a trace)
package inference

import (
	"errors"
	"fmt"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// ErrInconsistent is returned when a trace handed to Prune cannot reach the
// goals. Both engines only ever hand over sufficient traces, so seeing this
// error means an engine bug.
var ErrInconsistent = errors.New("inconsistent trace")

// Process table markers used in the rule column.
const (
	MarkerInit      = "INIT"
	MarkerDone      = "DONE"
	MarkerFail      = "FAIL"
	MarkerBacktrack = "BACKTRACK"
	MarkerBlocked   = "BLOCKED"
)

// EmptySet is shown in trace displays when no goal is left.
const EmptySet = "∅"

// =============================================================================
// Failures
// =============================================================================

// FailureKind classifies why a derivation did not reach its goals.
type FailureKind string

const (
	// SaturationExhausted: forward chaining reached a fixpoint without the goals.
	SaturationExhausted FailureKind = "saturation_exhausted"
	// UnresolvableGoal: backward chaining needed a fact no rule concludes.
	UnresolvableGoal FailureKind = "unresolvable_goal"
	// CyclicDependency: backward chaining re-entered a fact still being expanded.
	CyclicDependency FailureKind = "cyclic_dependency"
)

// Failure explains an unsuccessful run.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Fact    fact.Fact   `json:"fact,omitempty"`
	Missing []fact.Fact `json:"missing,omitempty"`
	Message string      `json:"message"`
}

func (f *Failure) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// =============================================================================
// Process tables
// =============================================================================

// ForwardRow is one snapshot of the forward process table.
type ForwardRow struct {
	Step int `json:"step"`
	// Rule is the applied rule label ("r3") or a marker.
	Rule string `json:"rule"`
	// Satisfied lists every rule applicable at this step, chosen one included.
	Satisfied []rules.RuleID `json:"satisfied"`
	Known     []fact.Fact    `json:"THOA"`
	Goals     []fact.Fact    `json:"TG"`
	Remaining []rules.RuleID `json:"R"`
	Trace     []rules.RuleID `json:"VET"`
	Note      string         `json:"note"`
}

// BackwardRow is one snapshot of the backward process table.
type BackwardRow struct {
	Step         int            `json:"step"`
	Rule         string         `json:"rule"`
	CurrentGoals []fact.Fact    `json:"current_goals"`
	Initial      []fact.Fact    `json:"GT"`
	Trace        []rules.RuleID `json:"VET"`
	Explanation  string         `json:"explanation"`
	Note         string         `json:"note"`
}

// ExplanationStep describes one rule of an optimal trace.
type ExplanationStep struct {
	Step       int          `json:"step"`
	Rule       rules.RuleID `json:"rule"`
	Premise    []fact.Fact  `json:"premise"`
	Conclusion fact.Fact    `json:"conclusion"`
	Note       string       `json:"note"`
	// NeededFor is "goal" when the conclusion is a goal, otherwise the labels
	// of the later rules consuming it.
	NeededFor string `json:"needed_for"`
}

// Derivation records that Fact was substituted by the premise of Rule.
type Derivation struct {
	Fact fact.Fact    `json:"fact"`
	Rule rules.RuleID `json:"rule"`
}

// TraceStep is one entry of the left-to-right goal-set display.
type TraceStep struct {
	// Set is the pending goal set after the step, or ["∅"] when empty.
	Set []string `json:"set"`
	// Rule is nil for the starting entry.
	Rule   *rules.RuleID `json:"rule"`
	Action string        `json:"action"`
	Note   string        `json:"note"`
}

// AppliedRule is one substitution made by the backward trace.
type AppliedRule struct {
	Rule       rules.RuleID `json:"rule"`
	Premise    []fact.Fact  `json:"premise"`
	Conclusion fact.Fact    `json:"conclusion"`
	Note       string       `json:"note"`
}

// =============================================================================
// Results
// =============================================================================

// ForwardResult is the outcome of Forward.
type ForwardResult struct {
	Success      bool              `json:"success"`
	InitialFacts []fact.Fact       `json:"initial_facts"`
	Goals        []fact.Fact       `json:"goals"`
	Known        []fact.Fact       `json:"known_facts"`
	FullTrace    []rules.RuleID    `json:"full_vet"`
	OptimalTrace []rules.RuleID    `json:"optimal_vet,omitempty"`
	RemovedRules []rules.RuleID    `json:"removed_rules,omitempty"`
	Explanation  []ExplanationStep `json:"explanation,omitempty"`
	ProcessTable []ForwardRow      `json:"process_table"`
	Failure      *Failure          `json:"failure,omitempty"`
}

// BackwardResult is the outcome of Backward.
type BackwardResult struct {
	Success      bool           `json:"success"`
	InitialFacts []fact.Fact    `json:"initial_facts"`
	Goals        []fact.Fact    `json:"goals"`
	// FullTrace lists the rules used, in goal-first discovery order.
	FullTrace    []rules.RuleID    `json:"full_vet"`
	OptimalTrace []rules.RuleID    `json:"optimal_vet,omitempty"`
	RemovedRules []rules.RuleID    `json:"removed_rules,omitempty"`
	Explanation  []ExplanationStep `json:"explanation,omitempty"`
	Derivation   []Derivation      `json:"derivation,omitempty"`
	ProcessTable []BackwardRow     `json:"process_table"`
	TraceDisplay []TraceStep       `json:"trace"`
	AppliedRules []AppliedRule     `json:"applied_rules"`
	Failure      *Failure          `json:"failure,omitempty"`
}

// TraceResult is the display-oriented view of a backward run.
type TraceResult struct {
	Success      bool          `json:"success"`
	Trace        []TraceStep   `json:"trace"`
	AppliedRules []AppliedRule `json:"applied_rules"`
	Failure      *Failure      `json:"failure,omitempty"`
}
