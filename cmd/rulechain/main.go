// Package main provides the rulechain CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/rulechain/pkg/audit"
	"github.com/orneryd/rulechain/pkg/config"
	"github.com/orneryd/rulechain/pkg/logging"
	"github.com/orneryd/rulechain/pkg/pool"
	"github.com/orneryd/rulechain/pkg/server"
	"github.com/orneryd/rulechain/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// app carries what PersistentPreRunE prepares for every command.
type app struct {
	configPath string
	logLevel   string
	dataDir    string
	auditLog   string

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "rulechain",
		Short: "rulechain - forward and backward chaining over rule sets",
		Long: `rulechain derives goal facts from initial facts with propositional
rules of the form "premise facts -> conclusion fact".

Features:
  • Forward chaining with a step-by-step process table
  • Backward chaining with backtracking and cycle detection
  • Optimal (pruned) rule traces for both engines
  • Fact and rule precedence graphs in Graphviz DOT
  • HTTP API and persistent rulebooks`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.auditLog, "audit-log", "", "Rulebook change journal (overrides config)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rulechain v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  a.runServe,
	}
	serveCmd.Flags().String("address", "", "Address to bind (overrides config)")
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().String("storage", "", "Rulebook storage: memory or badger")
	serveCmd.Flags().Bool("no-cache", false, "Disable the response cache")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default rulechain.yaml into the data directory",
		RunE:  a.runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	for _, cmd := range a.inferenceCommands() {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(a.graphCommand())
	rootCmd.AddCommand(a.validateCommand())
	rootCmd.AddCommand(a.rulebookCommand())

	return rootCmd
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}
	if a.auditLog != "" {
		cfg.Storage.AuditLog = a.auditLog
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	pool.Configure(pool.PoolConfig{Enabled: cfg.Engine.Pooling})
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openAudit opens the rulebook change journal. With no journal configured
// the returned logger drops every event.
func (a *app) openAudit() (*audit.Logger, error) {
	return audit.NewLogger(audit.Config{
		Enabled:    a.cfg.Storage.AuditLog != "",
		LogPath:    a.cfg.Storage.AuditLog,
		SyncWrites: a.cfg.Storage.SyncWrites,
	})
}

// openBooks opens the configured rulebook storage.
func (a *app) openBooks(backend string) (storage.Engine, error) {
	switch backend {
	case config.StorageMemory:
		return storage.NewMemoryEngine(), nil
	case config.StorageBadger:
		if err := os.MkdirAll(a.cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    filepath.Join(a.cfg.Storage.DataDir, "rulebooks"),
			SyncWrites: a.cfg.Storage.SyncWrites,
			Logger:     a.logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("address") {
		a.cfg.Server.Address, _ = flags.GetString("address")
	}
	if flags.Changed("port") {
		a.cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("storage") {
		a.cfg.Storage.Backend, _ = flags.GetString("storage")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		a.cfg.Cache.Enabled = false
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.Info("starting rulechain",
		zap.String("version", version),
		zap.String("config", a.cfg.String()))

	books, err := a.openBooks(a.cfg.Storage.Backend)
	if err != nil {
		return fmt.Errorf("opening rulebook storage: %w", err)
	}
	defer books.Close()

	journal, err := a.openAudit()
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer journal.Close()

	httpServer, err := server.New(books, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	httpServer.SetAuditLogger(journal)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "rulechain v%s listening on http://%s\n", version, httpServer.Addr())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	a.logger.Info("server stopped", zap.Int64("requests", httpServer.Stats().RequestCount))
	return nil
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	dataDir := a.cfg.Storage.DataDir
	force, _ := cmd.Flags().GetBool("force")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "rulechain.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", configPath, err)
	}

	cfg := config.Default()
	cfg.Storage.Backend = config.StorageBadger
	cfg.Storage.DataDir = dataDir
	if err := cfg.WriteFile(configPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized rulechain in %s\n", dataDir)
	fmt.Fprintf(out, "   Config: %s\n\n", configPath)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Import rules:     rulechain rulebook import NAME rules.yaml --data-dir %s\n", dataDir)
	fmt.Fprintf(out, "  2. Start the server: rulechain serve --config %s\n", configPath)
	return nil
}
