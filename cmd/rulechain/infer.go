package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/rulechain/pkg/config"
	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/graph"
	"github.com/orneryd/rulechain/pkg/inference"
	"github.com/orneryd/rulechain/pkg/rules"
)

// addRuleFlags adds the flags shared by every command that needs a rule set.
func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().String("rules", "", "Rule file (JSON or YAML)")
	cmd.Flags().String("rulebook", "", "Stored rulebook name (badger storage in --data-dir)")
	cmd.Flags().StringSlice("facts", nil, "Initial facts, comma separated")
	cmd.Flags().StringSlice("goals", nil, "Goal facts, comma separated")
	cmd.Flags().Bool("json", false, "Print the full result as JSON")
	cmd.MarkFlagsMutuallyExclusive("rules", "rulebook")
	cmd.MarkFlagsOneRequired("rules", "rulebook")
}

// loadStore builds the rule store from --rules or --rulebook.
func (a *app) loadStore(cmd *cobra.Command) (*rules.Store, error) {
	path, _ := cmd.Flags().GetString("rules")
	name, _ := cmd.Flags().GetString("rulebook")

	var records []rules.Record
	if path != "" {
		var err error
		if records, err = rules.LoadFile(path); err != nil {
			return nil, err
		}
	} else {
		books, err := a.openBooks(config.StorageBadger)
		if err != nil {
			return nil, err
		}
		defer books.Close()
		book, err := books.Get(name)
		if err != nil {
			return nil, fmt.Errorf("rulebook %q: %w", name, err)
		}
		records = book.Rules
	}

	store, err := rules.ParseRecords(records)
	if err != nil {
		return nil, fmt.Errorf("invalid rules:\n%s", problemList(err))
	}
	a.logger.Debug("rules loaded",
		zap.Int("rules", store.Len()),
		zap.String("fingerprint", rules.Fingerprint(store.Rules())))
	return store, nil
}

func factFlags(cmd *cobra.Command) (initial, goals fact.Set) {
	rawFacts, _ := cmd.Flags().GetStringSlice("facts")
	rawGoals, _ := cmd.Flags().GetStringSlice("goals")
	return fact.FromStrings(rawFacts), fact.FromStrings(rawGoals)
}

// engineContext applies the configured per-call timeout.
func (a *app) engineContext(parent context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Engine.Timeout > 0 {
		return context.WithTimeout(parent, a.cfg.Engine.Timeout)
	}
	return context.WithCancel(parent)
}

// =============================================================================
// forward / backward / trace / analyze
// =============================================================================

func (a *app) inferenceCommands() []*cobra.Command {
	forwardCmd := &cobra.Command{
		Use:   "forward",
		Short: "Run forward chaining",
		RunE:  a.runForward,
	}
	backwardCmd := &cobra.Command{
		Use:   "backward",
		Short: "Run backward chaining",
		RunE:  a.runBackward,
	}
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Show how backward chaining shrinks the goal set",
		RunE:  a.runTrace,
	}
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run both engines concurrently and compare",
		RunE:  a.runAnalyze,
	}

	cmds := []*cobra.Command{forwardCmd, backwardCmd, traceCmd, analyzeCmd}
	for _, cmd := range cmds {
		addRuleFlags(cmd)
		_ = cmd.MarkFlagRequired("goals")
	}
	return cmds
}

func (a *app) runForward(cmd *cobra.Command, args []string) error {
	store, err := a.loadStore(cmd)
	if err != nil {
		return err
	}
	initial, goals := factFlags(cmd)

	ctx, cancel := a.engineContext(cmd.Context())
	defer cancel()
	res, err := inference.Forward(ctx, store, initial, goals)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, res)
	}
	writeForwardTable(out, res.ProcessTable)
	fmt.Fprintln(out)
	fmt.Fprint(out, res.Summary())
	return nil
}

func (a *app) runBackward(cmd *cobra.Command, args []string) error {
	store, err := a.loadStore(cmd)
	if err != nil {
		return err
	}
	initial, goals := factFlags(cmd)

	ctx, cancel := a.engineContext(cmd.Context())
	defer cancel()
	res, err := inference.Backward(ctx, store, initial, goals)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, res)
	}
	writeBackwardTable(out, res.ProcessTable)
	fmt.Fprintln(out)
	fmt.Fprint(out, res.Summary())
	return nil
}

func (a *app) runTrace(cmd *cobra.Command, args []string) error {
	store, err := a.loadStore(cmd)
	if err != nil {
		return err
	}
	initial, goals := factFlags(cmd)

	ctx, cancel := a.engineContext(cmd.Context())
	defer cancel()
	res, err := inference.Trace(ctx, store, initial, goals)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, res)
	}
	fmt.Fprintln(out, traceLine(res.Trace))
	if !res.Success && res.Failure != nil {
		fmt.Fprintf(out, "FAILED: %s\n", res.Failure.Message)
	}
	return nil
}

// traceLine renders "{D} --r2--> {C} --r1--> {∅}".
func traceLine(steps []inference.TraceStep) string {
	var sb strings.Builder
	for i, st := range steps {
		if i > 0 && st.Rule != nil {
			fmt.Fprintf(&sb, " --%s--> ", st.Rule.Label())
		}
		fmt.Fprintf(&sb, "{%s}", strings.Join(st.Set, ", "))
	}
	return sb.String()
}

func (a *app) runAnalyze(cmd *cobra.Command, args []string) error {
	store, err := a.loadStore(cmd)
	if err != nil {
		return err
	}
	initial, goals := factFlags(cmd)

	ctx, cancel := a.engineContext(cmd.Context())
	defer cancel()

	var (
		fwd *inference.ForwardResult
		bwd *inference.BackwardResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fwd, err = inference.Forward(gctx, store, initial, goals)
		return err
	})
	g.Go(func() error {
		var err error
		bwd, err = inference.Backward(gctx, store, initial, goals)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, map[string]any{"forward": fwd, "backward": bwd})
	}
	fmt.Fprint(out, fwd.Summary())
	fmt.Fprintln(out)
	fmt.Fprint(out, bwd.Summary())
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Forward used %d rule(s), backward used %d; optimal traces agree: %t\n",
		len(fwd.FullTrace), len(bwd.FullTrace), slices.Equal(fwd.OptimalTrace, bwd.OptimalTrace))
	return nil
}

// =============================================================================
// graph
// =============================================================================

func (a *app) graphCommand() *cobra.Command {
	graphCmd := &cobra.Command{
		Use:       "graph fpg|rpg",
		Short:     "Build a fact or rule precedence graph",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(graph.KindFPG), string(graph.KindRPG)},
		RunE:      a.runGraph,
	}
	addRuleFlags(graphCmd)
	graphCmd.Flags().String("layout", graph.DefaultLayout, "Layout method: "+strings.Join(graph.Layouts(), ", "))
	graphCmd.Flags().String("format", "dot", "Output format: dot or json")
	return graphCmd
}

func (a *app) runGraph(cmd *cobra.Command, args []string) error {
	store, err := a.loadStore(cmd)
	if err != nil {
		return err
	}
	initial, goals := factFlags(cmd)
	layout, _ := cmd.Flags().GetString("layout")
	format, _ := cmd.Flags().GetString("format")
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		format = "json"
	}

	var g *graph.Graph
	if graph.Kind(args[0]) == graph.KindFPG {
		g = graph.BuildFPG(store, initial, goals)
	} else {
		g = graph.BuildRPG(store)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return writeJSON(out, g)
	case "dot":
		return graph.DOTRenderer{}.Render(out, g, layout)
	default:
		return fmt.Errorf("unknown format %q (want dot or json)", format)
	}
}

// =============================================================================
// validate
// =============================================================================

func (a *app) validateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a rule file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("rules")
			records, err := rules.LoadFile(path)
			if err != nil {
				return err
			}
			store, err := rules.ParseRecords(records)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is invalid:\n%s\n", path, problemList(err))
				return errors.New("validation failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, %d facts, fingerprint %s\n",
				path, store.Len(), store.Facts().Len(), rules.Fingerprint(store.Rules()))
			return nil
		},
	}
	validateCmd.Flags().String("rules", "", "Rule file (JSON or YAML)")
	_ = validateCmd.MarkFlagRequired("rules")
	return validateCmd
}

// =============================================================================
// Output helpers
// =============================================================================

func problemList(err error) string {
	problems := rules.Problems(err)
	lines := make([]string, len(problems))
	for i, p := range problems {
		lines[i] = "  - " + p.Error()
	}
	return strings.Join(lines, "\n")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeForwardTable(w io.Writer, rows []inference.ForwardRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tRULE\tSATISFIED\tKNOWN\tREMAINING\tTRACE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t{%s}\t%s\t%s\n",
			r.Step, r.Rule, idList(r.Satisfied), joinFacts(r.Known), idList(r.Remaining), idList(r.Trace))
	}
	_ = tw.Flush()
}

func writeBackwardTable(w io.Writer, rows []inference.BackwardRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tRULE\tGOALS\tTRACE\tEXPLANATION")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t{%s}\t%s\t%s\n",
			r.Step, r.Rule, joinFacts(r.CurrentGoals), idList(r.Trace), r.Explanation)
	}
	_ = tw.Flush()
}

func idList(ids []rules.RuleID) string {
	if len(ids) == 0 {
		return "-"
	}
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = id.Label()
	}
	return strings.Join(labels, ",")
}

func joinFacts(facts []fact.Fact) string {
	return strings.Join(fact.ToStrings(facts), ", ")
}
