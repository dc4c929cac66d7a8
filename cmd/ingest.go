package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bidlevel/internal/ingest"
	"github.com/sells-group/bidlevel/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load vendor bid files into the store",
	Long:  "Reads a YAML manifest, or a single CSV/XLSX/JSON bid file, and stores each submission. Rows that cannot be parsed are reported and skipped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		manifestPath, _ := cmd.Flags().GetString("manifest")
		file, _ := cmd.Flags().GetString("file")
		eventID, _ := cmd.Flags().GetString("event")

		var (
			batch *ingest.Batch
			err   error
		)
		switch {
		case manifestPath != "":
			var m *ingest.Manifest
			m, err = ingest.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			if eventID == "" {
				eventID = m.EventID
			}
			batch, err = m.Read(ctx, cfg.Leveling.Parallelism)
		case file != "":
			if eventID == "" {
				return eris.New("--event is required with --file")
			}
			subID, _ := cmd.Flags().GetString("submission")
			vendor, _ := cmd.Flags().GetString("vendor")
			sheet, _ := cmd.Flags().GetString("sheet")
			batch, err = ingest.ReadFile(ctx, file, ingest.Options{SubmissionID: subID, VendorName: vendor, Sheet: sheet})
		default:
			return eris.New("one of --manifest or --file is required")
		}
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return storeBatch(ctx, newAnalysisService(st), eventID, batch, os.Stdout)
	},
}

type submitter interface {
	Submit(ctx context.Context, sub model.Submission) error
}

// storeBatch submits every submission in the batch and reports what was
// stored and rejected.
func storeBatch(ctx context.Context, svc submitter, eventID string, batch *ingest.Batch, out io.Writer) error {
	subs := batch.Submissions(eventID)
	for _, sub := range subs {
		if err := svc.Submit(ctx, sub); err != nil {
			return eris.Wrapf(err, "ingest: store submission %s", sub.SubmissionID)
		}
		_, _ = fmt.Fprintf(out, "stored %s (%s): %d items\n", sub.SubmissionID, sub.VendorName, len(sub.Items))
	}
	if len(batch.Rejections) > 0 {
		_, _ = fmt.Fprintf(out, "\n%d rows rejected:\n", len(batch.Rejections))
		formatRejections(out, batch.Rejections)
	}
	return nil
}

// formatRejections writes a tabular list of rejected rows to out.
func formatRejections(out io.Writer, rejections []model.Rejection) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SUBMISSION\tLINE\tREASON")
	for _, r := range rejections {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", r.SubmissionID, r.LineNumber, r.Reason)
	}
	_ = w.Flush()
}

func init() {
	ingestCmd.Flags().String("manifest", "", "YAML manifest listing the event's bid files")
	ingestCmd.Flags().String("file", "", "single CSV, XLSX or JSON bid file")
	ingestCmd.Flags().String("event", "", "procurement event id (overrides the manifest)")
	ingestCmd.Flags().String("submission", "", "submission id for rows that lack one")
	ingestCmd.Flags().String("vendor", "", "vendor name for rows that lack one")
	ingestCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	rootCmd.AddCommand(ingestCmd)
}
