package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/rulechain/pkg/audit"
	"github.com/orneryd/rulechain/pkg/config"
	"github.com/orneryd/rulechain/pkg/rules"
	"github.com/orneryd/rulechain/pkg/storage"
)

func (a *app) rulebookCommand() *cobra.Command {
	rulebookCmd := &cobra.Command{
		Use:   "rulebook",
		Short: "Manage stored rulebooks (badger storage in --data-dir)",
	}

	importCmd := &cobra.Command{
		Use:   "import NAME FILE",
		Short: "Validate a rule file and store it under NAME",
		Args:  cobra.ExactArgs(2),
		RunE:  a.runRulebookImport,
	}
	importCmd.Flags().String("description", "", "Rulebook description")
	rulebookCmd.AddCommand(importCmd)

	rulebookCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rulebooks",
		Args:  cobra.NoArgs,
		RunE:  a.runRulebookList,
	})

	showCmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print a stored rulebook",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runRulebookShow,
	}
	rulebookCmd.AddCommand(showCmd)

	rulebookCmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stored rulebook",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runRulebookDelete,
	})

	historyCmd := &cobra.Command{
		Use:   "history [NAME]",
		Short: "Show the rulebook change journal (requires --audit-log or storage.audit_log)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runRulebookHistory,
	}
	historyCmd.Flags().Int("limit", 0, "Show at most this many entries")
	historyCmd.Flags().Bool("failed", false, "Only show rejected changes")
	rulebookCmd.AddCommand(historyCmd)

	return rulebookCmd
}

// journal logs a change made from the command line.
func (a *app) journal(c audit.Change) {
	logger, err := a.openAudit()
	if err == nil {
		c.Source = audit.SourceCLI
		err = logger.LogChange(c)
		if cerr := logger.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		a.logger.Warn("audit journal write failed", zap.String("rulebook", c.Rulebook), zap.Error(err))
	}
}

// withBooks opens the badger rulebook store for the duration of fn.
func (a *app) withBooks(fn func(storage.Engine) error) error {
	books, err := a.openBooks(config.StorageBadger)
	if err != nil {
		return err
	}
	defer books.Close()
	return fn(books)
}

func (a *app) runRulebookImport(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]
	description, _ := cmd.Flags().GetString("description")

	records, err := rules.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := rules.ParseRecords(records); err != nil {
		a.journal(audit.Change{
			Type:      audit.EventRulebookRejected,
			Rulebook:  name,
			RuleCount: len(records),
			Err:       err,
		})
		return fmt.Errorf("invalid rules:\n%s", problemList(err))
	}

	return a.withBooks(func(books storage.Engine) error {
		event, previous := audit.EventRulebookCreated, ""
		if old, err := books.Get(name); err == nil {
			event, previous = audit.EventRulebookReplaced, old.Checksum
		}
		if err := books.Put(&storage.RuleSet{Name: name, Description: description, Rules: records}); err != nil {
			return err
		}
		saved, err := books.Get(name)
		if err != nil {
			return err
		}
		a.logger.Info("rulebook imported", zap.String("rulebook", name), zap.Int("rules", len(records)))
		a.journal(audit.Change{
			Type:             event,
			Rulebook:         name,
			Checksum:         saved.Checksum,
			PreviousChecksum: previous,
			RuleCount:        len(saved.Rules),
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules into %q (checksum %s)\n", len(saved.Rules), name, saved.Checksum)
		return nil
	})
}

func (a *app) runRulebookList(cmd *cobra.Command, args []string) error {
	return a.withBooks(func(books storage.Engine) error {
		list, err := books.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No rulebooks stored")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tRULES\tUPDATED\tDESCRIPTION")
		for _, b := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", b.Name, len(b.Rules), b.UpdatedAt.Format("2006-01-02 15:04:05"), b.Description)
		}
		return tw.Flush()
	})
}

func (a *app) runRulebookShow(cmd *cobra.Command, args []string) error {
	return a.withBooks(func(books storage.Engine) error {
		book, err := books.Get(args[0])
		if err != nil {
			return fmt.Errorf("rulebook %q: %w", args[0], err)
		}
		return writeJSON(cmd.OutOrStdout(), book)
	})
}

func (a *app) runRulebookDelete(cmd *cobra.Command, args []string) error {
	return a.withBooks(func(books storage.Engine) error {
		old, err := books.Get(args[0])
		if err != nil {
			return fmt.Errorf("rulebook %q: %w", args[0], err)
		}
		if err := books.Delete(args[0]); err != nil {
			return fmt.Errorf("rulebook %q: %w", args[0], err)
		}
		a.journal(audit.Change{
			Type:             audit.EventRulebookDeleted,
			Rulebook:         args[0],
			PreviousChecksum: old.Checksum,
			RuleCount:        len(old.Rules),
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", args[0])
		return nil
	})
}

func (a *app) runRulebookHistory(cmd *cobra.Command, args []string) error {
	path := a.cfg.Storage.AuditLog
	if path == "" {
		return errors.New("no audit log configured (set --audit-log or storage.audit_log)")
	}
	q := audit.Query{}
	if len(args) == 1 {
		q.Rulebook = args[0]
	}
	q.Limit, _ = cmd.Flags().GetInt("limit")
	if failed, _ := cmd.Flags().GetBool("failed"); failed {
		q.Success = new(bool)
	}

	res, err := audit.NewReader(path).Query(q)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(res.Events) == 0 {
		fmt.Fprintln(out, "No changes recorded")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tRULEBOOK\tRULES\tCHECKSUM\tSOURCE\tREASON")
	for _, e := range res.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Rulebook, e.RuleCount,
			shortChecksum(e.Checksum), e.Source, strings.ReplaceAll(e.Reason, "\n", "; "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.HasMore {
		fmt.Fprintf(out, "(%d of %d entries)\n", len(res.Events), res.TotalCount)
	}
	return nil
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
