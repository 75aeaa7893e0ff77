// Package app wires configuration, storage, the account store, the runner
// and the scheduler into one object shared by the CLI commands and the daemon.
package app

import (
	"context"
	"errors"
	"fmt"

	"autopost/internal/accounts"
	"autopost/internal/action"
	"autopost/internal/config"
	"autopost/internal/debugserver"
	"autopost/internal/errs"
	"autopost/internal/metrics"
	"autopost/internal/runner"
	"autopost/internal/runtime/supervisor"
	"autopost/internal/schedule"
	"autopost/internal/scheduler"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger

	docs    storage.Store
	store   *accounts.Store
	actions *action.Registry
	metrics *metrics.Collector
	runner  *runner.Runner
	sched   *scheduler.Scheduler
	debug   *debugserver.Server
	builtin map[string]action.Action

	sup *supervisor.Supervisor
}

// Option adjusts an App before its components start.
type Option func(*options)

type options struct {
	actions map[string]action.Action
}

// WithAction binds a built-in action, taking precedence over a configured command.
func WithAction(platform string, a action.Action) Option {
	return func(o *options) {
		if o.actions == nil {
			o.actions = map[string]action.Action{}
		}
		o.actions[platform] = a
	}
}

// Open loads nothing itself: cfgm must already hold a config. It opens the
// store (taking its process lock) and restores the persisted schedule.
func Open(ctx context.Context, cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errs.Validation("app.open", "config not loaded")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	logs, log := logx.New(cfg.LogConfig())
	a := &App{cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app")), builtin: o.actions}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	m, err := metrics.New()
	if err != nil {
		a.closeLogs()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.metrics = m
	if err := m.AlertFailures(logs.TelegramFailures); err != nil {
		a.closeLogs()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	docs, err := storage.Open(cfg.StorageConfig(), log.With(logx.String("comp", "storage")))
	if err != nil {
		a.closeLogs()
		if errors.Is(err, storage.ErrLocked) {
			err = fmt.Errorf("%w: %s (another autopost process owns it)", err, cfg.StorePath)
		}
		return nil, errs.Persistence("app.open", err)
	}
	a.docs = docs

	store, err := accounts.Open(ctx, docs, accounts.WithLogger(log.With(logx.String("comp", "accounts"))))
	if err != nil {
		_ = docs.Close()
		a.closeLogs()
		return nil, err
	}
	a.store = store

	a.actions = action.NewRegistry()
	a.bindActions(cfg)

	a.runner = runner.New(cfg.RunnerConfig(), store, store, a.actions,
		runner.WithLogger(log.With(logx.String("comp", "runner"))),
		runner.WithObserver(m),
	)
	a.sched = scheduler.New(cfg.SchedulerConfig(), store, schedule.NewTable(cfg.Location()), a.runner,
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithMetrics(m),
	)
	if err := a.sched.Restore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// bindActions registers a Command per configured platform. Built-in actions
// win over commands; platforms dropped from the config are unbound.
func (a *App) bindActions(cfg *config.Config) {
	seen := map[string]bool{}
	for _, name := range cfg.PlatformNames() {
		p := cfg.Platforms[name]
		seen[name] = true
		if len(p.Command) == 0 {
			a.actions.Set(name, nil)
			continue
		}
		a.actions.Set(name, &action.Command{Platform: name, Argv: p.Command, Env: p.Env, Dir: p.Dir})
	}
	for name, act := range a.builtin {
		a.actions.Set(name, act)
		seen[name] = true
	}
	for _, name := range a.actions.Platforms() {
		if !seen[name] {
			a.actions.Set(name, nil)
		}
	}
}

func (a *App) Log() logx.Logger                { return a.log }
func (a *App) Accounts() *accounts.Store       { return a.store }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Actions() *action.Registry       { return a.actions }
func (a *App) Metrics() *metrics.Collector     { return a.metrics }

// Close releases the store lock. Used directly by one-shot CLI commands;
// the daemon calls it from Stop.
func (a *App) Close() error {
	var err error
	switch {
	case a.store != nil:
		// The account store owns docs from here on.
		err = a.store.Close()
	case a.docs != nil:
		err = a.docs.Close()
	}
	a.closeLogs()
	return err
}

func (a *App) closeLogs() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
