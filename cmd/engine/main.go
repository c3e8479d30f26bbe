// cmd/engine/main.go

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/app"
	"github.com/rovshanmuradov/solver-engine/internal/config"
	"github.com/rovshanmuradov/solver-engine/internal/logger"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "solver-engine",
		Short:         "Condition-gated transfer engine and solver supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml or json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, the scheduler and the solver supervisor",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the config and the solvers file without starting anything",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return validate(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting solver engine", zap.String("version", version))
	engine, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("Failed to initialize engine", zap.Error(err))
		return err
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("Engine stopped with error", zap.Error(err))
		return err
	}
	log.Info("Solver engine stopped")
	return nil
}

func validate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: storage=%s listen=%s interval=%s\n",
		cfg.Storage.Driver, cfg.HTTP.ListenAddr, cfg.Scheduler.Interval())

	if cfg.SolversFile == "" {
		return nil
	}
	defs, err := solver.LoadYAML(cfg.SolversFile, zap.NewNop())
	if err != nil {
		return fmt.Errorf("solvers file %s: %w", cfg.SolversFile, err)
	}
	fmt.Fprintf(out, "solvers ok: %d definitions in %s\n", len(defs), cfg.SolversFile)
	return nil
}
