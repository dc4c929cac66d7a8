package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/bidlevel/internal/ingest"
	"github.com/sells-group/bidlevel/internal/leveling"
)

var levelCmd = &cobra.Command{
	Use:   "level",
	Short: "Level a manifest's bids offline and print the snapshot",
	Long:  "Reads every bid file in the manifest and runs the leveling engine without touching the store. The snapshot is written to stdout as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		manifestPath, _ := cmd.Flags().GetString("manifest")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		details, _ := cmd.Flags().GetBool("details")
		if threshold == 0 {
			threshold = cfg.Leveling.OutlierThreshold
		}

		opts := leveling.Options{Threshold: threshold, Parallelism: cfg.Leveling.Parallelism}
		return runLevel(cmd.Context(), manifestPath, opts, details, os.Stdout, os.Stderr)
	},
}

// runLevel ingests the manifest and writes the resulting snapshot to out.
// Rows rejected during ingestion are reported on errOut.
func runLevel(ctx context.Context, manifestPath string, opts leveling.Options, details bool, out, errOut io.Writer) error {
	m, err := ingest.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	batch, err := m.Read(ctx, opts.Parallelism)
	if err != nil {
		return err
	}
	if len(batch.Rejections) > 0 {
		_, _ = fmt.Fprintf(errOut, "%d rows rejected during ingestion:\n", len(batch.Rejections))
		formatRejections(errOut, batch.Rejections)
	}

	opts.EventID = m.EventID
	snap, err := leveling.Analyze(ctx, batch.Items, opts)
	if err != nil {
		return err
	}
	if !details {
		snap = snap.WithoutDetails()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func init() {
	levelCmd.Flags().String("manifest", "", "YAML manifest listing the event's bid files")
	levelCmd.Flags().Float64("threshold", 0, "IQR multiplier for outlier fences (default from config)")
	levelCmd.Flags().Bool("details", true, "include per-vendor entries in each group")
	_ = levelCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(levelCmd)
}
