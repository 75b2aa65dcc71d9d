package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tablescan/internal/source/indexrange"
)

// newIndexScanCmd creates the 'index-scan' subcommand, which partitions a
// document index into contiguous id ranges, one per worker.
func newIndexScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index-scan <job> [path]",
		Short: "Runs a job over a document index",
		Long: `Reads the document count from the configured index and splits [0, count)
into one contiguous range per worker. path overrides index.path for the
jsonl backend; the postgres backend reads index.table through db.dsn.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runIndexScanCommand,
	}
	cmd.Flags().String("backend", "", "index backend: jsonl or postgres")
	return cmd
}

func runIndexScanCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	var path string
	if len(args) > 1 {
		path = args[1]
	}
	idx, err := appInstance.Index(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	return execute(cmd.Context(), appInstance, indexrange.New(idx, appInstance.Logger()), args[0])
}
