package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// Forward saturates initial with the rules of store until goals are known or
// no rule can add a fact.
//
// Each pass applies exactly one rule: among the unapplied rules whose premise
// is known and whose conclusion is not, the lowest rule id wins. The process
// table records every candidate of the pass, not just the winner. Since the
// known set only grows and each rule fires at most once, Forward finishes
// within store.Len()+1 passes.
//
// On success the full trace is pruned with Prune and explained.
func Forward(ctx context.Context, store *rules.Store, initial, goals fact.Set) (*ForwardResult, error) {
	known := initial.Clone()
	applied := make(map[rules.RuleID]bool, store.Len())
	goalList := goals.Sorted()

	res := &ForwardResult{
		InitialFacts: initial.Sorted(),
		Goals:        goalList,
		FullTrace:    []rules.RuleID{},
	}

	res.ProcessTable = append(res.ProcessTable, ForwardRow{
		Step:      0,
		Rule:      MarkerInit,
		Satisfied: forwardCandidates(store, known, applied),
		Known:     known.Sorted(),
		Goals:     goalList,
		Remaining: remainingIDs(store, applied),
		Trace:     []rules.RuleID{},
		Note:      "initialize",
	})

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if goals.IsSubsetOf(known) {
			res.ProcessTable = append(res.ProcessTable, ForwardRow{
				Step:      step,
				Rule:      MarkerDone,
				Satisfied: []rules.RuleID{},
				Known:     known.Sorted(),
				Goals:     goalList,
				Remaining: remainingIDs(store, applied),
				Trace:     cloneIDs(res.FullTrace),
				Note:      "all goals reached",
			})
			res.Success = true
			break
		}

		candidates := forwardCandidates(store, known, applied)
		if len(candidates) == 0 {
			missing := goals.Difference(known).Sorted()
			res.Failure = &Failure{
				Kind:    SaturationExhausted,
				Missing: missing,
				Message: fmt.Sprintf("no applicable rule left; cannot reach {%s}",
					strings.Join(fact.ToStrings(missing), ", ")),
			}
			res.ProcessTable = append(res.ProcessTable, ForwardRow{
				Step:      step,
				Rule:      MarkerFail,
				Satisfied: []rules.RuleID{},
				Known:     known.Sorted(),
				Goals:     goalList,
				Remaining: remainingIDs(store, applied),
				Trace:     cloneIDs(res.FullTrace),
				Note:      res.Failure.Message,
			})
			break
		}

		chosen := store.MustGet(candidates[0])
		known.Add(chosen.Conclusion)
		applied[chosen.ID] = true
		res.FullTrace = append(res.FullTrace, chosen.ID)

		res.ProcessTable = append(res.ProcessTable, ForwardRow{
			Step:      step,
			Rule:      chosen.ID.Label(),
			Satisfied: candidates,
			Known:     known.Sorted(),
			Goals:     goalList,
			Remaining: remainingIDs(store, applied),
			Trace:     cloneIDs(res.FullTrace),
			Note:      chosen.Describe(),
		})
	}

	res.Known = known.Sorted()
	if !res.Success {
		return res, nil
	}

	optimal, err := Prune(store, res.FullTrace, initial, goals)
	if err != nil {
		return nil, err
	}
	res.OptimalTrace = optimal
	res.RemovedRules = removedRules(res.FullTrace, optimal)
	res.Explanation = Explain(store, optimal, goals)
	return res, nil
}

// forwardCandidates returns, lowest id first, the unapplied rules whose
// premise is known and whose conclusion would be new.
func forwardCandidates(store *rules.Store, known fact.Set, applied map[rules.RuleID]bool) []rules.RuleID {
	out := []rules.RuleID{}
	for _, r := range store.Rules() {
		if applied[r.ID] || known.Has(r.Conclusion) {
			continue
		}
		if store.IsSatisfied(r, known) {
			out = append(out, r.ID)
		}
	}
	return out
}

func remainingIDs(store *rules.Store, applied map[rules.RuleID]bool) []rules.RuleID {
	out := make([]rules.RuleID, 0, store.Len()-len(applied))
	for _, r := range store.Rules() {
		if !applied[r.ID] {
			out = append(out, r.ID)
		}
	}
	return out
}

func cloneIDs(ids []rules.RuleID) []rules.RuleID {
	return append([]rules.RuleID{}, ids...)
}
