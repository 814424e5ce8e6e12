package inference

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

// Prune reduces trace to the rules actually needed to reach goals and returns
// them in an order that can be applied forward from initial.
//
// The trace may be in any order (forward application order or backward
// discovery order). Prune first replays the trace rules forward, lowest id
// first, to learn which rule produces each derivable fact. It then walks back
// from the goals over those producers, keeping only rules whose conclusion is
// needed. The kept rules are ordered with Kahn's algorithm so that every rule
// follows the producers of its premises; ties go to the lowest id.
//
// Pruning a pruned trace returns it unchanged. ErrInconsistent is returned
// when trace names an unknown rule or cannot reach every goal.
func Prune(store *rules.Store, trace []rules.RuleID, initial, goals fact.Set) ([]rules.RuleID, error) {
	allowed := make([]rules.Rule, 0, len(trace))
	seen := make(map[rules.RuleID]bool, len(trace))
	for _, id := range trace {
		if seen[id] {
			continue
		}
		r, ok := store.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown rule %s", ErrInconsistent, id.Label())
		}
		seen[id] = true
		allowed = append(allowed, r)
	}
	sort.SliceStable(allowed, func(i, j int) bool { return allowed[i].ID.Less(allowed[j].ID) })

	// Replay to find one producer per derivable fact.
	known := initial.Clone()
	producer := make(map[fact.Fact]rules.Rule)
	used := make([]bool, len(allowed))
	for progress := true; progress; {
		progress = false
		for i, r := range allowed {
			if used[i] || known.Has(r.Conclusion) || !known.ContainsAll(r.Premise) {
				continue
			}
			used[i] = true
			known.Add(r.Conclusion)
			producer[r.Conclusion] = r
			progress = true
			break
		}
	}

	goalList := goals.Sorted()
	for _, g := range goalList {
		if !known.Has(g) {
			return nil, fmt.Errorf("%w: goal %q not reachable from trace", ErrInconsistent, g)
		}
	}

	// Walk back from the goals.
	keep := make(map[rules.RuleID]rules.Rule)
	stack := append([]fact.Fact{}, goalList...)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if initial.Has(f) {
			continue
		}
		r := producer[f]
		if _, ok := keep[r.ID]; ok {
			continue
		}
		keep[r.ID] = r
		stack = append(stack, r.Premise...)
	}

	return topoOrder(keep, producer, initial), nil
}

// topoOrder sorts kept rules so producers come before consumers.
func topoOrder(keep map[rules.RuleID]rules.Rule, producer map[fact.Fact]rules.Rule, initial fact.Set) []rules.RuleID {
	indegree := make(map[rules.RuleID]int, len(keep))
	consumers := make(map[rules.RuleID][]rules.RuleID, len(keep))
	for id, r := range keep {
		deps := make(map[rules.RuleID]bool)
		for _, p := range r.Premise {
			if initial.Has(p) {
				continue
			}
			deps[producer[p].ID] = true
		}
		indegree[id] = len(deps)
		for dep := range deps {
			consumers[dep] = append(consumers[dep], id)
		}
	}

	var ready []rules.RuleID
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]rules.RuleID, 0, len(keep))
	for len(ready) > 0 {
		rules.SortIDs(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, c := range consumers[next] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return order
}

// Explain describes each rule of an optimal trace.
func Explain(store *rules.Store, optimal []rules.RuleID, goals fact.Set) []ExplanationStep {
	inTrace := make(map[rules.RuleID]bool, len(optimal))
	for _, id := range optimal {
		inTrace[id] = true
	}

	steps := make([]ExplanationStep, 0, len(optimal))
	for i, id := range optimal {
		r := store.MustGet(id)
		neededFor := "goal"
		if !goals.Has(r.Conclusion) {
			var labels []string
			for _, c := range store.RulesWithPremise(r.Conclusion) {
				if inTrace[c] {
					labels = append(labels, c.Label())
				}
			}
			neededFor = strings.Join(labels, ", ")
		}
		steps = append(steps, ExplanationStep{
			Step:       i + 1,
			Rule:       id,
			Premise:    r.Premise,
			Conclusion: r.Conclusion,
			Note:       r.Describe(),
			NeededFor:  neededFor,
		})
	}
	return steps
}

// removedRules lists the rules of full that pruning dropped, in full order.
func removedRules(full, optimal []rules.RuleID) []rules.RuleID {
	kept := make(map[rules.RuleID]bool, len(optimal))
	for _, id := range optimal {
		kept[id] = true
	}
	var out []rules.RuleID
	for _, id := range full {
		if !kept[id] {
			kept[id] = true
			out = append(out, id)
		}
	}
	return out
}
