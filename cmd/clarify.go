package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bidlevel/internal/clarify"
	"github.com/sells-group/bidlevel/internal/leveling"
	"github.com/sells-group/bidlevel/internal/model"
)

var clarifyCmd = &cobra.Command{
	Use:   "clarify <snapshot-id>",
	Short: "Send a pricing clarification request for a snapshot's outliers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("clarification"); err != nil {
			return err
		}

		groups, _ := cmd.Flags().GetStringSlice("group")
		minSev, _ := cmd.Flags().GetString("min-severity")
		sel := leveling.Selection{GroupKeys: groups}
		if minSev != "" {
			sev, ok := model.ParseSeverity(minSev)
			if !ok {
				return eris.Errorf("--min-severity must be mild, moderate or severe, got %q", minSev)
			}
			sel.MinSeverity = sev
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.GetSnapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "clarify")
		}

		sender := clarify.NewSender(clarify.OptionsFromConfig(cfg.Clarification), st)
		return runClarify(ctx, sender, snap, sel, os.Stdout)
	},
}

type deliverer interface {
	Deliver(ctx context.Context, snap *model.LevelingSnapshot, sel leveling.Selection) (*clarify.Result, error)
}

func runClarify(ctx context.Context, d deliverer, snap *model.LevelingSnapshot, sel leveling.Selection, out io.Writer) error {
	res, err := d.Deliver(ctx, snap, sel)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	clarifyCmd.Flags().StringSlice("group", nil, "group keys to include (default all outlier groups)")
	clarifyCmd.Flags().String("min-severity", "", "lowest severity to include (default from config)")
	rootCmd.AddCommand(clarifyCmd)
}
