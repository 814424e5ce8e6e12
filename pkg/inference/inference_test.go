package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/rules"
)

func buildStore(t *testing.T, rs ...rules.Rule) *rules.Store {
	t.Helper()
	store, err := rules.Build(rs)
	require.NoError(t, err)
	return store
}

// chainStore is r1: {A, B} -> C, r2: {C} -> D.
func chainStore(t *testing.T) *rules.Store {
	return buildStore(t,
		rules.New("1", []string{"A", "B"}, "C", ""),
		rules.New("2", []string{"C"}, "D", ""),
	)
}

func forwardMarkers(rows []ForwardRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Rule
	}
	return out
}

func backwardMarkers(rows []BackwardRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Rule
	}
	return out
}

// replay applies ids in order from initial and fails the test if any rule
// fires before its premise is known.
func replay(t *testing.T, store *rules.Store, ids []rules.RuleID, initial fact.Set) fact.Set {
	t.Helper()
	known := initial.Clone()
	for _, id := range ids {
		r := store.MustGet(id)
		require.Truef(t, known.ContainsAll(r.Premise), "%s applied before its premise was known", id.Label())
		known.Add(r.Conclusion)
	}
	return known
}

// =============================================================================
// Forward
// =============================================================================

func TestForward(t *testing.T) {
	ctx := context.Background()

	t.Run("chain reaches goal", func(t *testing.T) {
		store := chainStore(t)
		res, err := Forward(ctx, store, fact.NewSet("A", "B"), fact.NewSet("D"))
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Nil(t, res.Failure)
		assert.Equal(t, []rules.RuleID{"1", "2"}, res.FullTrace)
		assert.Equal(t, []rules.RuleID{"1", "2"}, res.OptimalTrace)
		assert.Empty(t, res.RemovedRules)
		assert.True(t, fact.NewSet(res.Known...).IsSubsetOf(fact.NewSet("A", "B", "C", "D")))
		assert.True(t, fact.NewSet("A", "B", "C", "D").IsSubsetOf(fact.NewSet(res.Known...)))

		if diff := cmp.Diff([]string{"INIT", "r1", "r2", "DONE"}, forwardMarkers(res.ProcessTable)); diff != "" {
			t.Errorf("process table markers (-want +got):\n%s", diff)
		}
		first := res.ProcessTable[1]
		assert.Equal(t, []rules.RuleID{"1"}, first.Satisfied)
		assert.Equal(t, []rules.RuleID{"2"}, first.Remaining)
		assert.Equal(t, []fact.Fact{"A", "B", "C"}, first.Known)
	})

	t.Run("undefined goal exhausts saturation", func(t *testing.T) {
		store := chainStore(t)
		res, err := Forward(ctx, store, fact.NewSet("A", "B"), fact.NewSet("E"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		require.NotNil(t, res.Failure)
		assert.Equal(t, SaturationExhausted, res.Failure.Kind)
		assert.Equal(t, []fact.Fact{"E"}, res.Failure.Missing)
		assert.Empty(t, res.OptimalTrace)
		assert.Equal(t, MarkerFail, res.ProcessTable[len(res.ProcessTable)-1].Rule)
	})

	t.Run("lowest id wins among candidates", func(t *testing.T) {
		store := buildStore(t,
			rules.New("3", []string{"A"}, "G", ""),
			rules.New("1", []string{"A"}, "B", ""),
			rules.New("2", []string{"A"}, "X", ""),
		)
		res, err := Forward(ctx, store, fact.NewSet("A"), fact.NewSet("G"))
		require.NoError(t, err)

		assert.Equal(t, []rules.RuleID{"1", "2", "3"}, res.FullTrace)
		assert.Equal(t, []rules.RuleID{"1", "2", "3"}, res.ProcessTable[1].Satisfied)
		assert.Equal(t, []rules.RuleID{"3"}, res.OptimalTrace)
		assert.Equal(t, []rules.RuleID{"1", "2"}, res.RemovedRules)
	})

	t.Run("rule with known conclusion is skipped", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"A"}, "B", ""),
			rules.New("2", []string{"B"}, "C", ""),
		)
		res, err := Forward(ctx, store, fact.NewSet("A", "B"), fact.NewSet("C"))
		require.NoError(t, err)
		assert.Equal(t, []rules.RuleID{"2"}, res.FullTrace)
	})

	t.Run("goals already known", func(t *testing.T) {
		store := chainStore(t)
		res, err := Forward(ctx, store, fact.NewSet("A", "D"), fact.NewSet("D"))
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Empty(t, res.FullTrace)
		assert.Empty(t, res.OptimalTrace)
		assert.Equal(t, []string{"INIT", "DONE"}, forwardMarkers(res.ProcessTable))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Forward(cctx, chainStore(t), fact.NewSet("A", "B"), fact.NewSet("D"))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestForward_Explanation(t *testing.T) {
	store := buildStore(t,
		rules.New("1", []string{"A"}, "B", "B from A"),
		rules.New("2", []string{"A"}, "X", ""),
		rules.New("3", []string{"B"}, "G", ""),
	)
	res, err := Forward(context.Background(), store, fact.NewSet("A"), fact.NewSet("G"))
	require.NoError(t, err)

	want := []ExplanationStep{
		{Step: 1, Rule: "1", Premise: []fact.Fact{"A"}, Conclusion: "B", Note: "B from A", NeededFor: "r3"},
		{Step: 2, Rule: "3", Premise: []fact.Fact{"B"}, Conclusion: "G", Note: "derive G from B", NeededFor: "goal"},
	}
	if diff := cmp.Diff(want, res.Explanation); diff != "" {
		t.Errorf("explanation (-want +got):\n%s", diff)
	}
	assert.Equal(t, []rules.RuleID{"2"}, res.RemovedRules)
}

// =============================================================================
// Backward
// =============================================================================

func TestBackward(t *testing.T) {
	ctx := context.Background()

	t.Run("chain reaches goal", func(t *testing.T) {
		store := chainStore(t)
		res, err := Backward(ctx, store, fact.NewSet("A", "B"), fact.NewSet("D"))
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, []rules.RuleID{"2", "1"}, res.FullTrace)
		assert.Equal(t, []rules.RuleID{"1", "2"}, res.OptimalTrace)
		assert.Equal(t, []Derivation{{Fact: "D", Rule: "2"}, {Fact: "C", Rule: "1"}}, res.Derivation)
		assert.Equal(t, []string{"INIT", "r2", "r1", "DONE"}, backwardMarkers(res.ProcessTable))
		assert.Equal(t, []fact.Fact{"C"}, res.ProcessTable[1].CurrentGoals)
		assert.Empty(t, res.ProcessTable[2].CurrentGoals)
	})

	t.Run("undefined goal is unresolvable", func(t *testing.T) {
		store := chainStore(t)
		res, err := Backward(ctx, store, fact.NewSet("A", "B"), fact.NewSet("E"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		require.NotNil(t, res.Failure)
		assert.Equal(t, UnresolvableGoal, res.Failure.Kind)
		assert.Equal(t, fact.Fact("E"), res.Failure.Fact)
		assert.Equal(t, []string{"INIT", "BLOCKED", "FAIL"}, backwardMarkers(res.ProcessTable))
	})

	t.Run("cycle without base case", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"a"}, "b", ""),
			rules.New("2", []string{"b"}, "a", ""),
		)
		res, err := Backward(ctx, store, fact.NewSet(), fact.NewSet("a"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		require.NotNil(t, res.Failure)
		assert.Equal(t, CyclicDependency, res.Failure.Kind)
		assert.Equal(t, fact.Fact("a"), res.Failure.Fact)
		assert.Empty(t, res.FullTrace)

		want := []string{"INIT", "r2", "r1", "BLOCKED", "BACKTRACK", "BACKTRACK", "FAIL"}
		if diff := cmp.Diff(want, backwardMarkers(res.ProcessTable)); diff != "" {
			t.Errorf("process table markers (-want +got):\n%s", diff)
		}
	})

	t.Run("reports the last alternative's cause", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"a"}, "b", ""),
			rules.New("2", []string{"b"}, "a", ""),
			rules.New("3", []string{"Z"}, "a", ""),
		)
		res, err := Backward(ctx, store, fact.NewSet(), fact.NewSet("a"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		require.NotNil(t, res.Failure)
		assert.Equal(t, UnresolvableGoal, res.Failure.Kind)
		assert.Equal(t, fact.Fact("Z"), res.Failure.Fact)
		last := res.ProcessTable[len(res.ProcessTable)-1]
		assert.Equal(t, MarkerFail, last.Rule)
		assert.Contains(t, last.Explanation, `"Z"`)
	})

	t.Run("remembered dead fact keeps its cause", func(t *testing.T) {
		// M fails through Q and is remembered; J's first alternative then
		// fails on X, and its last one hits M again.
		store := buildStore(t,
			rules.New("1", []string{"M"}, "G", ""),
			rules.New("2", []string{"Q"}, "M", ""),
			rules.New("3", []string{"J"}, "G", ""),
			rules.New("4", []string{"X"}, "J", ""),
			rules.New("5", []string{"M"}, "J", ""),
		)
		res, err := Backward(ctx, store, fact.NewSet(), fact.NewSet("G"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		require.NotNil(t, res.Failure)
		assert.Equal(t, UnresolvableGoal, res.Failure.Kind)
		assert.Equal(t, fact.Fact("Q"), res.Failure.Fact)
	})

	t.Run("backtracks to next alternative", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"X"}, "G", ""),
			rules.New("2", []string{"Y"}, "G", ""),
			rules.New("3", []string{"A"}, "Y", ""),
		)
		res, err := Backward(ctx, store, fact.NewSet("A"), fact.NewSet("G"))
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Nil(t, res.Failure)
		assert.Equal(t, []rules.RuleID{"2", "3"}, res.FullTrace)
		assert.Equal(t, []rules.RuleID{"3", "2"}, res.OptimalTrace)
		assert.Equal(t,
			[]string{"INIT", "r1", "BLOCKED", "BACKTRACK", "r2", "r3", "DONE"},
			backwardMarkers(res.ProcessTable))

		require.Len(t, res.TraceDisplay, 3)
		assert.Equal(t, []string{"G"}, res.TraceDisplay[0].Set)
		assert.Nil(t, res.TraceDisplay[0].Rule)
		assert.Equal(t, []string{"Y"}, res.TraceDisplay[1].Set)
		assert.Equal(t, "replace G with [Y]", res.TraceDisplay[1].Action)
		assert.Equal(t, []string{EmptySet}, res.TraceDisplay[2].Set)
		require.NotNil(t, res.TraceDisplay[2].Rule)
		assert.Equal(t, rules.RuleID("3"), *res.TraceDisplay[2].Rule)
	})

	t.Run("single grounded candidate goes first", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"X"}, "G", ""),
			rules.New("2", []string{"A"}, "G", ""),
		)
		res, err := Backward(ctx, store, fact.NewSet("A"), fact.NewSet("G"))
		require.NoError(t, err)

		assert.Equal(t, []rules.RuleID{"2"}, res.FullTrace)
		assert.Equal(t, []string{"INIT", "r2", "DONE"}, backwardMarkers(res.ProcessTable))
	})

	t.Run("shared premise is proven once", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"P", "Q"}, "G", ""),
			rules.New("2", []string{"Q"}, "P", ""),
			rules.New("3", []string{"A"}, "Q", ""),
		)
		res, err := Backward(ctx, store, fact.NewSet("A"), fact.NewSet("G"))
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, []rules.RuleID{"1", "2", "3"}, res.FullTrace)
		assert.Equal(t, []rules.RuleID{"3", "2", "1"}, res.OptimalTrace)
	})

	t.Run("goals already initial", func(t *testing.T) {
		res, err := Backward(ctx, chainStore(t), fact.NewSet("D"), fact.NewSet("D"))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Empty(t, res.FullTrace)
		assert.Equal(t, []string{"INIT", "DONE"}, backwardMarkers(res.ProcessTable))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Backward(cctx, chainStore(t), fact.NewSet("A", "B"), fact.NewSet("D"))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestTrace(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		res, err := Trace(context.Background(), chainStore(t), fact.NewSet("A", "B"), fact.NewSet("D"))
		require.NoError(t, err)

		assert.True(t, res.Success)
		require.Len(t, res.Trace, 3)
		assert.Equal(t, "START", res.Trace[0].Action)
		assert.Equal(t, []string{"C"}, res.Trace[1].Set)
		assert.Equal(t, []string{EmptySet}, res.Trace[2].Set)
		assert.Equal(t, []AppliedRule{
			{Rule: "2", Premise: []fact.Fact{"C"}, Conclusion: "D", Note: "derive D from C"},
			{Rule: "1", Premise: []fact.Fact{"A", "B"}, Conclusion: "C", Note: "derive C from A, B"},
		}, res.AppliedRules)
	})

	t.Run("failure keeps start entry", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"a"}, "b", ""),
			rules.New("2", []string{"b"}, "a", ""),
		)
		res, err := Trace(context.Background(), store, fact.NewSet(), fact.NewSet("a"))
		require.NoError(t, err)

		assert.False(t, res.Success)
		require.Len(t, res.Trace, 1)
		assert.Equal(t, []string{"a"}, res.Trace[0].Set)
		assert.Equal(t, CyclicDependency, res.Failure.Kind)
	})
}

// =============================================================================
// Prune
// =============================================================================

func TestPrune(t *testing.T) {
	store := buildStore(t,
		rules.New("1", []string{"A"}, "B", ""),
		rules.New("2", []string{"A"}, "X", ""),
		rules.New("3", []string{"B"}, "G", ""),
		rules.New("4", []string{"X"}, "Y", ""),
	)
	initial := fact.NewSet("A")
	goals := fact.NewSet("G")

	t.Run("drops unneeded rules", func(t *testing.T) {
		got, err := Prune(store, []rules.RuleID{"1", "2", "4", "3"}, initial, goals)
		require.NoError(t, err)
		assert.Equal(t, []rules.RuleID{"1", "3"}, got)
	})

	t.Run("orders by dependency regardless of input order", func(t *testing.T) {
		got, err := Prune(store, []rules.RuleID{"3", "2", "1"}, initial, goals)
		require.NoError(t, err)
		assert.Equal(t, []rules.RuleID{"1", "3"}, got)
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := Prune(store, []rules.RuleID{"4", "3", "2", "1"}, initial, goals)
		require.NoError(t, err)
		twice, err := Prune(store, once, initial, goals)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("insufficient trace", func(t *testing.T) {
		_, err := Prune(store, []rules.RuleID{"3"}, initial, goals)
		assert.True(t, errors.Is(err, ErrInconsistent))
	})

	t.Run("unknown rule", func(t *testing.T) {
		_, err := Prune(store, []rules.RuleID{"1", "99", "3"}, initial, goals)
		assert.True(t, errors.Is(err, ErrInconsistent))
	})

	t.Run("empty trace for known goals", func(t *testing.T) {
		got, err := Prune(store, nil, fact.NewSet("G"), goals)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

// =============================================================================
// Properties over generated rule sets
// =============================================================================

func randomStore(t *testing.T, rng *rand.Rand) *rules.Store {
	t.Helper()
	const nFacts = 8
	n := 3 + rng.Intn(10)
	rs := make([]rules.Rule, 0, n)
	for i := 1; i <= n; i++ {
		conclusion := rng.Intn(nFacts)
		var premise []string
		width := 1 + rng.Intn(3)
		for k := 0; k < width; k++ {
			p := rng.Intn(nFacts)
			if p != conclusion {
				premise = append(premise, fmt.Sprintf("f%d", p))
			}
		}
		if len(premise) == 0 {
			premise = []string{fmt.Sprintf("f%d", (conclusion+1)%nFacts)}
		}
		rs = append(rs, rules.New(fmt.Sprint(i), premise, fmt.Sprintf("f%d", conclusion), ""))
	}
	return buildStore(t, rs...)
}

func TestEngineProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		store := randomStore(t, rng)
		initial := fact.NewSet(fact.Fact(fmt.Sprintf("f%d", rng.Intn(8))), fact.Fact(fmt.Sprintf("f%d", rng.Intn(8))))
		goals := fact.NewSet(fact.Fact(fmt.Sprintf("f%d", rng.Intn(8))))

		fwd, err := Forward(ctx, store, initial, goals)
		require.NoError(t, err)

		// Monotonic and bounded.
		require.LessOrEqual(t, len(fwd.ProcessTable), store.Len()+2)
		for j := 1; j < len(fwd.ProcessTable); j++ {
			prev := fact.NewSet(fwd.ProcessTable[j-1].Known...)
			cur := fact.NewSet(fwd.ProcessTable[j].Known...)
			require.True(t, prev.IsSubsetOf(cur), "known shrank at step %d", j)
		}

		bwd, err := Backward(ctx, store, initial, goals)
		require.NoError(t, err)
		require.Equal(t, fwd.Success, bwd.Success, "engines disagree on case %d", i)

		if !fwd.Success {
			continue
		}

		// Round-trip soundness of full and optimal traces.
		assert.True(t, goals.IsSubsetOf(replay(t, store, fwd.FullTrace, initial)))
		assert.True(t, goals.IsSubsetOf(replay(t, store, fwd.OptimalTrace, initial)))
		assert.True(t, goals.IsSubsetOf(replay(t, store, bwd.OptimalTrace, initial)))

		// Pruning yields a subset and is idempotent.
		full := make(map[rules.RuleID]bool)
		for _, id := range fwd.FullTrace {
			full[id] = true
		}
		for _, id := range fwd.OptimalTrace {
			assert.True(t, full[id], "optimal rule %s not in full trace", id)
		}
		again, err := Prune(store, fwd.OptimalTrace, initial, goals)
		require.NoError(t, err)
		assert.Equal(t, fwd.OptimalTrace, again)
	}
}

func TestEngines_Pure(t *testing.T) {
	store := chainStore(t)
	initial := fact.NewSet("A", "B")
	goals := fact.NewSet("D")

	a, err := Forward(context.Background(), store, initial, goals)
	require.NoError(t, err)
	b, err := Forward(context.Background(), store, initial, goals)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("forward not deterministic (-first +second):\n%s", diff)
	}
	assert.True(t, initial.Equal(fact.NewSet("A", "B")), "initial facts were modified")
}

// =============================================================================
// Summary
// =============================================================================

func TestSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("forward success", func(t *testing.T) {
		res, err := Forward(ctx, chainStore(t), fact.NewSet("A", "B"), fact.NewSet("D"))
		require.NoError(t, err)
		s := res.Summary()
		assert.Contains(t, s, "SUCCESS: reached {D} from {A, B}")
		assert.Contains(t, s, "Optimal trace: r1 -> r2")
		assert.Contains(t, s, "Step 2: apply r2")
	})

	t.Run("backward lists full trace in forward order", func(t *testing.T) {
		res, err := Backward(ctx, chainStore(t), fact.NewSet("A", "B"), fact.NewSet("D"))
		require.NoError(t, err)
		assert.Contains(t, res.Summary(), "Full trace: r1 -> r2")
	})

	t.Run("failure", func(t *testing.T) {
		res, err := Backward(ctx, chainStore(t), fact.NewSet("A", "B"), fact.NewSet("E"))
		require.NoError(t, err)
		s := res.Summary()
		assert.Contains(t, s, "FAILED")
		assert.Contains(t, s, `no rule concludes "E"`)
	})

	t.Run("removed rules", func(t *testing.T) {
		store := buildStore(t,
			rules.New("1", []string{"A"}, "X", ""),
			rules.New("2", []string{"A"}, "G", ""),
		)
		res, err := Forward(ctx, store, fact.NewSet("A"), fact.NewSet("G"))
		require.NoError(t, err)
		assert.Contains(t, res.Summary(), "Removed (not needed): r1")
	})
}
