package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/errs"
	"autopost/internal/model"
)

func parseProvider(op, s string) (model.Provider, error) {
	p, err := model.ParseProvider(s)
	if err != nil {
		return "", errs.Validation(op, "%v", err)
	}
	return p, nil
}

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage accounts"}

	var profileRef, topic string
	create := &cobra.Command{
		Use:   "create <provider> <nickname>",
		Short: "Create an account and print its id",
		Args:  exactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			p, err := parseProvider("account.create", args[0])
			if err != nil {
				return err
			}
			acc, err := a.Accounts().CreateAccount(ctx, p, args[1], profileRef, topic)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), acc)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), acc.ID)
			return err
		}),
	}
	create.Flags().StringVar(&profileRef, "profile-ref", "", "browser profile or credential reference")
	create.Flags().StringVar(&topic, "topic", "", "content topic or niche")

	list := &cobra.Command{
		Use:   "list [provider]",
		Short: "List accounts, optionally for one provider",
		Args:  maxArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			providers := model.Providers()
			if len(args) == 1 {
				p, err := parseProvider("account.list", args[0])
				if err != nil {
					return err
				}
				providers = []model.Provider{p}
			}
			var all []model.Account
			for _, p := range providers {
				accs, err := a.Accounts().ListAccounts(ctx, p)
				if err != nil {
					return err
				}
				all = append(all, accs...)
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), all)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "PROVIDER", "NICKNAME", "TOPIC", "CREATED")
			for _, acc := range all {
				t.row(acc.ID, string(acc.Provider), acc.Nickname, orDash(truncate(acc.Topic, 40)), when(acc.CreatedAt))
			}
			return t.flush()
		}),
	}

	var newNick, newProfile, newTopic string
	update := &cobra.Command{
		Use:   "update <provider> <account_id>",
		Short: "Change nickname, profile reference or topic",
		Args:  exactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			p, err := parseProvider("account.update", args[0])
			if err != nil {
				return err
			}
			var upd model.AccountUpdate
			if cmd.Flags().Changed("nickname") {
				upd.Nickname = &newNick
			}
			if cmd.Flags().Changed("profile-ref") {
				upd.ProfileRef = &newProfile
			}
			if cmd.Flags().Changed("topic") {
				upd.Topic = &newTopic
			}
			if upd.Empty() {
				return errs.Validation("account.update", "nothing to update (use --nickname, --profile-ref or --topic)")
			}
			acc, err := a.Accounts().UpdateAccount(ctx, p, args[1], upd)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), acc)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", acc.ID)
			return err
		}),
	}
	update.Flags().StringVar(&newNick, "nickname", "", "new nickname")
	update.Flags().StringVar(&newProfile, "profile-ref", "", "new profile reference")
	update.Flags().StringVar(&newTopic, "topic", "", "new topic")

	remove := &cobra.Command{
		Use:   "remove <provider> <account_id>",
		Short: "Remove an account with its schedule entries; history is kept",
		Args:  exactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			p, err := parseProvider("account.remove", args[0])
			if err != nil {
				return err
			}
			if _, err := a.Scheduler().RemoveAccount(ctx, p, args[1]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[1])
			return err
		}),
	}

	var yes, all bool
	clearCmd := &cobra.Command{
		Use:   "clear (<provider> | --all)",
		Short: "Delete every account, entry, record and product of a provider",
		Args:  maxArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			var providers []model.Provider
			switch {
			case all && len(args) == 0:
				providers = model.Providers()
			case !all && len(args) == 1:
				p, err := parseProvider("account.clear", args[0])
				if err != nil {
					return err
				}
				providers = []model.Provider{p}
			default:
				return errs.Validation("account.clear", "give exactly one of <provider> or --all")
			}
			if !yes {
				return errs.Validation("account.clear", "refusing to clear %v without --yes", providers)
			}
			for _, p := range providers {
				n, err := clearProvider(ctx, a, p)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared %s (%d accounts)\n", p, n); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "clear every provider")
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm")

	cmd.AddCommand(create, list, update, remove, clearCmd)
	return cmd
}

// clearProvider unschedules every account of p before dropping its document.
func clearProvider(ctx context.Context, a *app.App, p model.Provider) (int, error) {
	accs, err := a.Accounts().ListAccounts(ctx, p)
	if err != nil {
		return 0, err
	}
	for _, acc := range accs {
		if _, err := a.Scheduler().RemoveAccount(ctx, p, acc.ID); err != nil {
			return 0, err
		}
	}
	if err := a.Accounts().Clear(ctx, p); err != nil {
		return 0, err
	}
	return len(accs), nil
}
