package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"PositionScanner/internal/app"
	"PositionScanner/internal/config"
	"PositionScanner/internal/logging"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "positionscanner",
		Short:         "Notify subscribers about new open positions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(runCmd(), serveCmd(), subscribersCmd(), versionCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan every source once and send notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				reports, err := a.Run(ctx, source)
				for _, r := range reports {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s items=%d batches=%d sent=%d failed=%d skipped=%d committed=%d\n",
						r.Source, r.Items, r.Batches, r.Sent, r.Failed, r.Skipped, r.Committed)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Only process the named source")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on the configured cron schedule and expose /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func subscribersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "Manage the subscribers table",
	}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert subscribers from a YAML file into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				n, err := a.ImportSubscribers(ctx, file)
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d subscriber(s)\n", n)
				return err
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "subscribers.yaml", "YAML file to import")
	cmd.AddCommand(importCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "positionscanner", version)
		},
	}
}

// withApp loads configuration, builds the application and runs fn until it
// returns or the process is interrupted.
func withApp(parent context.Context, fn func(context.Context, *app.Application) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("configuration rejected", "error", err)
		return err
	}
	logger := logging.NewWithFormat(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application failed to start", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if err := fn(ctx, application); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}
