package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vlcbridge/internal/audit"
)

func newAuditCmd(opts *options) *cobra.Command {
	var filter audit.Filter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the player setup and removal history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, _, err := openRegistry(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := audit.NewSQLiteRepository(db.DB).List(ctx, filter)
			if err != nil {
				return fmt.Errorf("listing audit entries: %w", err)
			}
			return printAudit(cmd.OutOrStdout(), res, opts.jsonOut)
		},
	}
	cmd.Flags().StringVar(&filter.DeviceID, "device", "", "only entries for this device id")
	cmd.Flags().StringVar(&filter.Action, "action", "", "only entries with this action")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries to show")
	return cmd
}

func printAudit(w io.Writer, res *audit.ListResult, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if len(res.Entries) == 0 {
		fmt.Fprintln(w, "No audit entries")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tDEVICE\tSOURCE")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.Action, e.DeviceID, e.Source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.Total > len(res.Entries) {
		fmt.Fprintf(w, "(%d of %d entries)\n", len(res.Entries), res.Total)
	}
	return nil
}
