// Package runner executes one scheduled job: resolve the account, invoke the
// platform action under a timeout, and append the job record.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"autopost/internal/action"
	"autopost/internal/errs"
	"autopost/internal/model"
	logx "autopost/pkg/logx"
)

const DefaultTimeout = 600 * time.Second

type Config struct {
	// DefaultTimeout applies when a platform has no override.
	DefaultTimeout time.Duration
	// Timeouts holds per-platform overrides.
	Timeouts map[string]time.Duration
}

func (c Config) timeoutFor(platform string) time.Duration {
	if d, ok := c.Timeouts[platform]; ok && d > 0 {
		return d
	}
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return DefaultTimeout
}

// Accounts resolves the account a job runs for.
type Accounts interface {
	FindAccount(ctx context.Context, id string) (model.Account, error)
}

// Recorder persists finished job records.
type Recorder interface {
	AppendJobRecord(ctx context.Context, rec model.JobRecord) error
}

// Observer receives one call per finished job. Optional.
type Observer interface {
	ObserveJob(platform string, status model.JobStatus, d time.Duration)
}

type Job struct {
	AccountID string
	Provider  model.Provider
	Platform  string
}

// Outcome is the result of one execution.
type Outcome struct {
	Record model.JobRecord
	// Err is nil on success, otherwise an ActionFailure or ActionTimeout.
	Err error
	// PersistErr is set when the job record could not be stored.
	PersistErr error
}

func (o Outcome) Result() model.LastResult { return model.ResultOf(o.Record.Status) }

type Runner struct {
	log      logx.Logger
	accounts Accounts
	records  Recorder
	actions  *action.Registry
	observer Observer
	now      func() time.Time

	cfg atomic.Pointer[Config]
}

type Option func(*Runner)

func WithLogger(l logx.Logger) Option       { return func(r *Runner) { r.log = l } }
func WithObserver(o Observer) Option        { return func(r *Runner) { r.observer = o } }
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func New(cfg Config, accounts Accounts, records Recorder, actions *action.Registry, opts ...Option) *Runner {
	r := &Runner{accounts: accounts, records: records, actions: actions, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.Apply(cfg)
	return r
}

// Apply swaps timeouts for subsequent jobs.
func (r *Runner) Apply(cfg Config) {
	cp := cfg
	cp.Timeouts = make(map[string]time.Duration, len(cfg.Timeouts))
	for k, v := range cfg.Timeouts {
		cp.Timeouts[strings.ToLower(k)] = v
	}
	r.cfg.Store(&cp)
}

// Run executes job once. It never panics and always tries to append a
// record, also when ctx is already cancelled.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	cfg := r.cfg.Load()
	timeout := cfg.timeoutFor(job.Platform)
	log := r.log.With(
		logx.String("account_id", job.AccountID),
		logx.String("platform", job.Platform),
	)

	rec := model.JobRecord{
		AccountID: job.AccountID,
		Provider:  job.Provider,
		Platform:  job.Platform,
		StartedAt: r.now().UTC(),
	}

	res, err := r.execute(ctx, job, timeout, log)
	rec.FinishedAt = r.now().UTC()

	var out Outcome
	switch {
	case err == nil:
		rec.Status = model.JobSuccess
		rec.ResultMetadata = res.Metadata
	case errors.Is(err, errs.ErrActionTimeout):
		rec.Status = model.JobTimeout
		rec.ErrorDetail = err.Error()
		out.Err = err
	default:
		rec.Status = model.JobFailure
		rec.ErrorDetail = err.Error()
		out.Err = err
	}

	if rec.Status == model.JobSuccess {
		log.Info("job finished", logx.Duration("dur", rec.Duration()))
	} else {
		log.Warn("job failed", logx.String("status", string(rec.Status)), logx.Duration("dur", rec.Duration()), logx.Err(err))
	}
	if r.observer != nil {
		r.observer.ObserveJob(job.Platform, rec.Status, rec.Duration())
	}

	// The record outlives a shutdown-cancelled context.
	if perr := r.records.AppendJobRecord(context.WithoutCancel(ctx), rec); perr != nil {
		out.PersistErr = errs.Wrap(errs.KindPersistence, "append_job_record", perr)
		log.Error("job record not persisted", logx.Err(perr))
	}
	out.Record = rec
	return out
}

func (r *Runner) execute(ctx context.Context, job Job, timeout time.Duration, log logx.Logger) (action.Result, error) {
	const op = "run"
	act, ok := r.actions.Get(job.Platform)
	if !ok {
		return action.Result{}, errs.ActionFailure(op, fmt.Errorf("no action registered for platform %q", job.Platform))
	}
	acc, err := r.accounts.FindAccount(ctx, job.AccountID)
	if err != nil {
		return action.Result{}, errs.ActionFailure(op, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		res action.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("action panic", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := act.Execute(runCtx, acc)
		done <- result{res: res, err: err}
	}()

	var got result
	select {
	case got = <-done:
	case <-runCtx.Done():
		// An action ignoring its context is abandoned here.
		select {
		case got = <-done:
		default:
			got = result{err: runCtx.Err()}
		}
	}

	if got.err == nil {
		return got.res, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return action.Result{}, errs.ActionTimeout(op, fmt.Errorf("exceeded %s: %w", timeout, got.err))
	}
	return action.Result{}, errs.ActionFailure(op, got.err)
}
