package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autopost/internal/config"
	"autopost/internal/debugserver"
	"autopost/internal/runtime/supervisor"
	logx "autopost/pkg/logx"
)

// Start launches the scheduler loop, the config watcher and the debug
// server. The returned error only covers startup; loop failures surface
// through Done and Err.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.debug = debugserver.New(a.log, a.metrics, a.health)
	a.debug.Apply(a.sup.Context(), a.cfgm.Get().DebugServerConfig())

	a.sup.Go("scheduler", a.sched.Run)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		return a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("daemon started",
		logx.String("config", a.cfgm.Path()),
		logx.Any("platforms", a.actions.Platforms()),
	)
	return nil
}

// Done is closed once the daemon context is cancelled, by Stop or by a
// failed loop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the loop failure that stopped the daemon, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() error {
	if a.sup == nil {
		return nil
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	for _, l := range a.sup.Snapshot() {
		if l.Name == "scheduler" && !l.Running {
			return fmt.Errorf("scheduler is not running")
		}
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) error {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.apply(ctx, applied, next)
			applied = next
		}
	}
}

// apply pushes a reloaded config into the running components. Store and
// timezone changes need a restart and are only reported.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload had no effective changes")
		return
	}
	a.log.Info("config changed", append([]logx.Field{logx.String("sections", strings.Join(sections, ","))}, fields...)...)
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section needs a restart to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(next.LogConfig())
	a.bindActions(next)
	a.runner.Apply(next.RunnerConfig())
	a.sched.Apply(next.SchedulerConfig())
	if a.debug != nil {
		a.debug.Apply(ctx, next.DebugServerConfig())
	}
}

// stopSlack covers the final flush and the store close after the scheduler
// has drained.
const stopSlack = 15 * time.Second

// StopBudget is how long Stop needs under the current config: the
// scheduler's grace, its wait for cancelled jobs and the final flush.
func (a *App) StopBudget() time.Duration { return a.sched.StopBudget() + stopSlack }

// Stop cancels the loops, lets the scheduler drain within its shutdown
// grace, then closes the debug server and the store. When the loops do not
// stop within ctx the store stays open for the jobs still reporting and the
// error is returned.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("daemon stopping", logx.Duration("budget", a.StopBudget()))

	step := func(name string, fn func(context.Context) error) error {
		start := time.Now()
		if err := fn(ctx); err != nil {
			a.log.Error("stop step failed", logx.String("step", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return fmt.Errorf("stop %s: %w", name, err)
		}
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		return nil
	}

	err := step("loops", a.sup.Stop)
	if err != nil && ctx.Err() != nil {
		return err
	}
	_ = step("debug", func(c context.Context) error {
		a.debug.Stop(c)
		return nil
	})
	a.log.Info("daemon stopped")
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}
