package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bidlevel/internal/model"
	"github.com/sells-group/bidlevel/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect stored leveling snapshots",
}

// -- snapshots list --

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		event, _ := cmd.Flags().GetString("event")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		list, err := st.ListSnapshots(ctx, store.SnapshotFilter{EventID: event, Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "snapshots list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}

		formatSnapshotList(os.Stdout, list)
		return nil
	},
}

// -- snapshots show --

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Show a snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.GetSnapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "snapshots show")
		}
		if details, _ := cmd.Flags().GetBool("details"); !details {
			snap = snap.WithoutDetails()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	snapshotsListCmd.Flags().String("event", "", "filter by event id")
	snapshotsListCmd.Flags().Int("limit", 50, "max number of snapshots to display")
	snapshotsListCmd.Flags().Int("offset", 0, "number of snapshots to skip")

	snapshotsShowCmd.Flags().Bool("details", true, "include per-vendor entries in each group")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

// formatSnapshotList writes a tabular list of snapshots to out.
func formatSnapshotList(out io.Writer, list []model.SnapshotSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEVENT\tANALYZED\tITEMS\tOUTLIERS")
	_, _ = fmt.Fprintln(w, "--\t-----\t--------\t-----\t--------")

	for _, s := range list {
		event := s.EventID
		if len(event) > 30 {
			event = event[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			truncateID(s.ID),
			event,
			s.AnalysisDate.Format("2006-01-02 15:04"),
			s.TotalLineItems,
			s.TotalOutliers,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
