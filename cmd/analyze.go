package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bidlevel/internal/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <event-id>...",
	Short: "Analyze stored events",
	Long:  "Returns the latest snapshot of each event, running a new analysis when none exists or --force is set. One event prints the snapshot as JSON; several print a summary table.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		force, _ := cmd.Flags().GetBool("force")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		details, _ := cmd.Flags().GetBool("details")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reqs := make([]analysis.Request, len(args))
		for i, id := range args {
			reqs[i] = analysis.Request{EventID: id, ForceRefresh: force, OutlierThreshold: threshold, IncludeDetails: details}
		}
		return runAnalyze(ctx, newAnalysisService(st), reqs, os.Stdout)
	},
}

type eventAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	AnalyzeEvents(ctx context.Context, reqs []analysis.Request) ([]analysis.EventResult, error)
}

func runAnalyze(ctx context.Context, svc eventAnalyzer, reqs []analysis.Request, out io.Writer) error {
	if len(reqs) == 1 {
		res, err := svc.Analyze(ctx, reqs[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Snapshot)
	}

	results, err := svc.AnalyzeEvents(ctx, reqs)
	if err != nil {
		return err
	}
	formatEventResults(out, results)

	for _, r := range results {
		if r.Err != nil {
			return eris.Errorf("%d of %d events failed", countFailed(results), len(results))
		}
	}
	return nil
}

// formatEventResults writes one row per analyzed event to out.
func formatEventResults(out io.Writer, results []analysis.EventResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EVENT\tSNAPSHOT\tSOURCE\tITEMS\tOUTLIERS\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t--------\t------\t-----\t--------\t-----")
	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t\t\t\t\t%v\n", r.EventID, r.Err)
			continue
		}
		snap := r.Result.Snapshot
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t\n",
			r.EventID,
			truncateID(snap.ID),
			r.Result.Source,
			snap.TotalLineItems,
			snap.OutlierSummary.TotalOutliers,
		)
	}
	_ = w.Flush()
}

func countFailed(results []analysis.EventResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func init() {
	analyzeCmd.Flags().Bool("force", false, "run a new analysis even when a snapshot exists")
	analyzeCmd.Flags().Float64("threshold", 0, "IQR multiplier for outlier fences (default from config)")
	analyzeCmd.Flags().Bool("details", true, "include per-vendor entries in each group")
	rootCmd.AddCommand(analyzeCmd)
}
