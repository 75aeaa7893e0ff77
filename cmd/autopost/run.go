package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/model"
)

func (c *cli) runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once <account_id> <platform>",
		Short: "Run the platform action now, bypassing the timer",
		Args:  exactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			out, err := a.Scheduler().RunOnce(ctx, args[0], args[1])
			if out.Record.Status != "" {
				if c.jsonOut {
					if perr := printJSON(cmd.OutOrStdout(), out.Record); perr != nil {
						return perr
					}
				} else {
					r := out.Record
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s in %s\n", r.Status, r.AccountID, r.Platform, r.Duration().Round(time.Millisecond))
					if len(r.ResultMetadata) > 0 {
						fmt.Fprintln(cmd.OutOrStdout(), string(r.ResultMetadata))
					}
				}
			}
			return err
		}),
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <account_id>",
		Short: "Show job records of an account, oldest first",
		Args:  exactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			recs, err := a.Accounts().ListJobRecords(ctx, args[0])
			if err != nil {
				return err
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}
			if c.jsonOut {
				if recs == nil {
					recs = []model.JobRecord{}
				}
				return printJSON(cmd.OutOrStdout(), recs)
			}
			t := newTable(cmd.OutOrStdout(), "STARTED", "PLATFORM", "STATUS", "DURATION", "DETAIL")
			for _, r := range recs {
				detail := r.ErrorDetail
				if detail == "" {
					detail = string(r.ResultMetadata)
				}
				t.row(when(r.StartedAt), r.Platform, string(r.Status), r.Duration().Round(time.Millisecond).String(), orDash(truncate(detail, 60)))
			}
			return t.flush()
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the newest n records")
	return cmd
}
