package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tablescan/internal/runner"
	"github.com/JakeFAU/tablescan/internal/source/shard"
)

// newScanCmd creates the 'scan' subcommand, which runs a job over every line
// of every shard under a root.
func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <job> [root]",
		Short: "Runs a job over compressed shard files",
		Long: `Walks root (a shard file or a directory) for shards matching --ext, decodes
each one by its extension (gzip, zstd, s2, lz4 or plain) and dispatches every
line as one record. Corrupt shards are skipped and counted. root defaults to
input.root from the config.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runScanCommand,
	}
	cmd.Flags().StringSlice("ext", shard.DefaultExtensions, "shard file extensions to include")
	return cmd
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	root := cfg.Input.Root
	if len(args) > 1 {
		root = args[1]
	}
	if root == "" {
		return errors.New("no shard root: pass one or set input.root")
	}

	src := shard.New(shard.Config{
		Root:       root,
		Extensions: cfg.Input.Extensions,
		Logger:     appInstance.Logger(),
	})
	return execute(cmd.Context(), appInstance, src, args[0])
}

// execute runs one job and logs its summary. An interrupted run is not an
// error: its partial summary has already been reported.
func execute(ctx context.Context, appInstance App, src runner.Source, job string) error {
	logger := appInstance.Logger()
	summary, err := runner.Run(ctx, src, appInstance.RunConfig(job))
	if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return fmt.Errorf("%s over %s: %w", job, src.Kind(), err)
	}
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.String("job", summary.Job),
		zap.String("source", summary.Source),
		zap.Int64("processed", summary.Stats.Processed),
		zap.Int64("failed", summary.Stats.Failed),
		zap.Int64("corrupt", summary.Stats.Corrupt),
		zap.Int64("abandoned", summary.Stats.Abandoned),
		zap.Int64("inline_runs", summary.Stats.InlineRuns),
		zap.Int64("elapsed_ms", summary.ElapsedMS),
	}
	if summary.OutputURI != "" {
		fields = append(fields, zap.String("output", summary.OutputURI))
	}
	if err != nil {
		logger.Warn("Scan interrupted", append(fields, zap.Error(err))...)
		return nil
	}
	logger.Info("Scan finished", fields...)
	return nil
}
