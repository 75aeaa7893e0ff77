package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"autopost/internal/app"
)

func (c *cli) productCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "product", Short: "Manage affiliate products"}

	add := &cobra.Command{
		Use:   "add <account_id> <affiliate_link>",
		Short: "Attach an affiliate link to an affiliate account",
		Args:  exactArgs(2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			p, err := a.Accounts().AddProduct(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), p)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return err
		}),
	}

	list := &cobra.Command{
		Use:   "list [account_id]",
		Short: "List affiliate products",
		Args:  maxArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			account := ""
			if len(args) == 1 {
				account = args[0]
			}
			products, err := a.Accounts().ListProducts(ctx, account)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), products)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "ACCOUNT", "LINK", "ADDED")
			for _, p := range products {
				t.row(p.ID, p.AccountID, p.AffiliateLink, when(p.CreatedAt))
			}
			return t.flush()
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}
