// Package cmd defines and implements the CLI commands for the artimport
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/artsearch-ingest/internal/batch"
	"github.com/JakeFAU/artsearch-ingest/internal/config"
	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
	"github.com/JakeFAU/artsearch-ingest/internal/scheduler"
	"github.com/JakeFAU/artsearch-ingest/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Store() ingest.Store
	Creator() *batch.Creator
	Machine() *batch.Machine
	Scheduler() *scheduler.Scheduler
}

// newApp is the application factory. It's a variable so tests can swap in
// their own wiring.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "artimport",
		Short: "Bulk ingestion for the art search archive.",
		Long: `artimport ingests metadata files and image archives contributed by
museums and archives. Batches move through processing, operator review,
import and similarity sync; the serve command runs the HTTP API and the
scheduler that drives them.`,
		SilenceUsage: true,

		// Build the application after flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the ARTIMPORT_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTickCmd())
	cmd.AddCommand(newBatchCmd())

	return cmd
}

// resolveApp retrieves the application instance stored by the root command.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
