package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/errs"
	logx "autopost/pkg/logx"
)

func (c *cli) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := c.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := app.Open(ctx, m)
			if err != nil {
				return err
			}
			log := a.Log()
			if err := a.Start(ctx); err != nil {
				_ = a.Close()
				return err
			}
			notify(log, daemon.SdNotifyReady)
			go watchdog(ctx, log)

			select {
			case <-ctx.Done():
				log.Info("shutdown requested")
			case <-a.Done():
			}
			notify(log, daemon.SdNotifyStopping)

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.StopBudget())
			defer cancel()
			if err := a.Stop(stopCtx); err != nil {
				return errs.Wrap(errs.KindInternal, "daemon", err)
			}
			return nil
		},
	}
}

// notify is a no-op outside systemd.
func notify(log logx.Logger, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
