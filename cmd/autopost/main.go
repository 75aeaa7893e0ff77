// Command autopost manages accounts and recurring schedule entries and runs
// the scheduler daemon.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/config"
	"autopost/internal/errs"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errs.KindValidation.Code(), err)
		os.Exit(errs.KindValidation.ExitCode())
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code. Errors
// are printed as "<CODE>: <cause>".
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", errs.Code(err), err)
		return errs.ExitCode(err)
	}
	return 0
}

type cli struct {
	cfgPath string
	jsonOut bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "autopost",
		Short:         "Schedule recurring content actions for managed accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "config file (JSON or YAML); defaults to $"+config.EnvConfig+" or ./autopost.yaml")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at the configured level instead of warn")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Validation("flags", "%v", err)
	})

	root.AddCommand(
		c.accountCmd(),
		c.scheduleCmd(),
		c.runOnceCmd(),
		c.historyCmd(),
		c.productCmd(),
		c.daemonCmd(),
	)
	return root
}

// exactArgs wraps cobra.ExactArgs so argument mistakes exit as validation errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := cobra.ExactArgs(n)(cmd, a); err != nil {
			return errs.Validation(cmd.Name(), "%v (usage: %s)", err, cmd.UseLine())
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, a); err != nil {
			return errs.Validation(cmd.Name(), "%v (usage: %s)", err, cmd.UseLine())
		}
		return nil
	}
}

func (c *cli) loadConfig() (*config.ConfigManager, error) {
	m := config.NewConfigManager(config.ResolvePath(c.cfgPath))
	if _, err := m.Load(); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "config", err)
	}
	return m, nil
}

// open loads the config and the store for a one-shot command. One-shot
// commands log warnings only unless --verbose is set.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	m, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if !c.verbose {
		m.Get().Logging.Level = "warn"
	}
	return app.Open(ctx, m)
}

// withApp runs fn against an opened app and always releases the store.
func (c *cli) withApp(fn func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		a, err := c.open(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(); err == nil && cerr != nil {
				err = errs.Persistence("close", cerr)
			}
		}()
		return fn(ctx, a, cmd, args)
	}
}
