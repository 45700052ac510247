// Package cmd provides the searchctl commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// app is the state shared by subcommands for one invocation.
type app struct {
	configPath string
	dataDir    string
	logLevel   string

	cfg    *config.Config
	engine *indexer.Engine
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "searchctl",
		Short: "Inspect and modify docsearch indexes on disk",
		Long: `searchctl opens the index data directory directly. Each index is
locked while a command runs, so stop searchd or point searchctl at a copy
when the service is using the same directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("SP_CONFIG"), "path to config file")
	cmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "index data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(
		newIndexCmd(a),
		newImportCmd(a),
		newSearchCmd(a),
		newDeleteCmd(a),
		newClearCmd(a),
		newStatsCmd(a),
		newCompactCmd(a),
	)
	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Indexer.DataDir = a.dataDir
	}
	slog.SetDefault(logger.New(cmd.ErrOrStderr(), a.logLevel, cfg.Logging.Format))

	engine, err := indexer.NewEngine(cfg.Indexer, metrics.NewNop())
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Indexer.DataDir, err)
	}
	a.cfg, a.engine = cfg, engine
	return nil
}

func (a *app) close() error {
	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	return err
}
