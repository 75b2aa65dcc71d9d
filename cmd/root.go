// Package cmd defines and implements the CLI commands for the tablescan executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/app"
	"github.com/JakeFAU/tablescan/internal/config"
	"github.com/JakeFAU/tablescan/internal/logging"
	"github.com/JakeFAU/tablescan/internal/runner"
	"github.com/JakeFAU/tablescan/internal/source/indexrange"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipApp marks commands that run without application services.
const skipApp = "tablescan/skip-app"

const shutdownTimeout = 10 * time.Second

// App is what the scan commands need from the application container.
// Tests inject a fake through newApp.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	RunConfig(job string) runner.Config
	Index(ctx context.Context, path string) (indexrange.Index, error)
	Close(ctx context.Context)
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, cmd *cobra.Command) (App, error) {
	return app.New(ctx, cfg, logger, app.Options{ResultWriter: cmd.OutOrStdout()})
}

type rootOptions struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tablescan",
		Short: "Scans web-table corpora with pluggable jobs.",
		Long: `tablescan streams web tables out of compressed shard files or a document
index, hands every record to a job on a bounded worker pool, and writes the
job's result to a local path, GCS, S3 or stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] != "" {
				return nil
			}
			cfg, err := config.Load(opts.cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, cmd)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			appInstance.Close(ctx)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.Int("workers", 4, "worker pool size")
	flags.Int64("report-every", 10000, "emit a throughput report every N processed records")
	flags.String("output", "", "result target: path, file://, gs://, s3:// or memory://; empty writes to stdout")
	flags.Bool("dev", true, "development logging")

	cmd.AddCommand(newScanCmd(), newIndexScanCmd(), newClassifyCmd(), newJobsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// scan; the engine still drains and the partial run is reported.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	logger, lerr := logging.New(logging.Options{})
	if lerr != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Fatal("Command execution failed", zap.Error(err))
}
