package inference

import (
	"strings"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/pool"
	"github.com/orneryd/rulechain/pkg/rules"
)

// Summary renders the multi-line conclusion shown under the process table.
func (r *ForwardResult) Summary() string {
	return summarize("FORWARD CHAINING", r.Success, r.InitialFacts, r.Goals,
		r.FullTrace, r.OptimalTrace, r.RemovedRules, r.Explanation, r.Failure)
}

// Summary renders the multi-line conclusion shown under the process table.
// The full trace is listed in forward order (reverse discovery order).
func (r *BackwardResult) Summary() string {
	full := make([]rules.RuleID, len(r.FullTrace))
	for i, id := range r.FullTrace {
		full[len(full)-1-i] = id
	}
	return summarize("BACKWARD CHAINING", r.Success, r.InitialFacts, r.Goals,
		full, r.OptimalTrace, r.RemovedRules, r.Explanation, r.Failure)
}

func summarize(title string, success bool, initial, goals []fact.Fact, full, optimal, removed []rules.RuleID,
	steps []ExplanationStep, failure *Failure) string {
	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)

	sb.Printf("=== %s ===\n\n", title)
	if !success {
		sb.Printf("FAILED: cannot reach {%s} from {%s}\n", joinFacts(goals), joinFacts(initial))
		if failure != nil {
			sb.Printf("Reason: %s\n", failure.Message)
		}
		return sb.String()
	}

	sb.Printf("SUCCESS: reached {%s} from {%s}\n\n", joinFacts(goals), joinFacts(initial))
	sb.Printf("Full trace: %s\n", chain(full))
	sb.Printf("Rules used: %d\n\n", len(full))
	sb.Printf("Optimal trace: %s\n", chain(optimal))
	sb.Printf("Optimal rule count: %d\n", len(optimal))

	if len(steps) > 0 {
		sb.WriteString("\nSteps (optimal trace):\n")
	}
	for _, st := range steps {
		sb.Printf("\nStep %d: apply %s\n", st.Step, st.Rule.Label())
		sb.Printf("  - premise: {%s}\n", joinFacts(st.Premise))
		sb.Printf("  - conclusion: %s\n", st.Conclusion)
		sb.Printf("  - note: %s\n", st.Note)
	}

	if len(removed) > 0 {
		labels := pool.GetStringSlice()
		defer pool.PutStringSlice(labels)
		for _, id := range removed {
			*labels = append(*labels, id.Label())
		}
		sb.Printf("\nRemoved (not needed): %s\n", strings.Join(*labels, ", "))
	}
	return sb.String()
}

// chain renders ids as "r1 -> r2", or "(none)".
func chain(ids []rules.RuleID) string {
	if len(ids) == 0 {
		return "(none)"
	}
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = id.Label()
	}
	return strings.Join(labels, " -> ")
}
