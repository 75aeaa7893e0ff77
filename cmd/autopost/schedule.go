package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/model"
)

func (c *cli) scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring schedule entries",
		Long: `Interval specs:
  every 30m | every 2h | every 1d | 45m   fixed period anchored at creation
  09:00,17:30                             daily clock times
  cron:0 9 * * 1-5                        five-field cron expression`,
	}

	add := &cobra.Command{
		Use:   "add <account_id> <platform> <interval_spec>",
		Short: "Schedule a platform action for an account",
		Args:  exactArgs(3),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			e, err := a.Scheduler().AddEntry(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), e)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s, next run %s\n", e.Key(), when(e.NextRunAt))
			return err
		}),
	}

	remove := &cobra.Command{
		Use:   "remove <account_id> <platform>",
		Short: "Remove a schedule entry (no-op when absent)",
		Args:  exactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if err := a.Scheduler().RemoveEntry(ctx, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", args[0], args[1])
			return err
		}),
	}

	var account string
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedule entries ordered by next run",
		Args:  exactArgs(0),
		RunE: c.withApp(func(_ context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			var entries []model.ScheduleEntry
			for _, e := range a.Scheduler().Entries() {
				if account == "" || e.AccountID == account {
					entries = append(entries, e)
				}
			}
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].NextRunAt.Before(entries[j].NextRunAt) })
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return printEntries(cmd.OutOrStdout(), entries)
		}),
	}
	list.Flags().StringVar(&account, "account", "", "only entries of this account id")

	toggle := func(use, short string, disabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <account_id> <platform>",
			Short: short,
			Args:  exactArgs(2),
			RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
				e, err := a.Scheduler().SetDisabled(ctx, args[0], args[1], disabled)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(cmd.OutOrStdout(), e)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is %s, next run %s\n", e.Key(), e.Status, when(e.NextRunAt))
				return err
			}),
		}
	}

	cmd.AddCommand(add, remove, list,
		toggle("enable", "Resume a disabled entry from its next future slot", false),
		toggle("disable", "Pause an entry without removing it", true),
	)
	return cmd
}

func printEntries(w io.Writer, entries []model.ScheduleEntry) error {
	t := newTable(w, "ACCOUNT", "PROVIDER", "PLATFORM", "SPEC", "STATUS", "LAST", "NEXT RUN")
	for _, e := range entries {
		t.row(e.AccountID, string(e.Provider), e.Platform, e.IntervalSpec, string(e.Status), string(e.LastResult), when(e.NextRunAt))
	}
	return t.flush()
}
