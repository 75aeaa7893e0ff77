package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"autopost/internal/errs"
	"autopost/internal/model"
	"autopost/internal/runner"
	"autopost/internal/schedule"
	logx "autopost/pkg/logx"
)

type Scheduler struct {
	log     logx.Logger
	store   Store
	table   *schedule.Table
	runner  Runner
	metrics Metrics
	now     func() time.Time

	mu       sync.Mutex
	cfg      Config
	sem      *semaphore.Weighted
	limiters map[string]*limiter
	jobCtx   context.Context
	running  bool
	wake     chan struct{}

	// flushMu orders table changes with the snapshot writes that follow
	// them, so an older snapshot never overwrites a newer one.
	flushMu sync.Mutex
	wg      sync.WaitGroup
}

type limiter struct {
	perHour float64
	lim     *rate.Limiter
}

type Option func(*Scheduler)

func WithLogger(l logx.Logger) Option       { return func(s *Scheduler) { s.log = l } }
func WithMetrics(m Metrics) Option          { return func(s *Scheduler) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(cfg Config, store Store, table *schedule.Table, run Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		table:    table,
		runner:   run,
		now:      time.Now,
		limiters: map[string]*limiter{},
		jobCtx:   context.Background(),
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	s.Apply(cfg)
	return s
}

// Apply swaps tick interval, worker bound, grace period and rate limits.
// Jobs already running keep the worker slot they hold.
func (s *Scheduler) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	if cfg.Workers != old.Workers || (s.sem == nil && cfg.Workers > 0) {
		if cfg.Workers > 0 {
			s.sem = semaphore.NewWeighted(int64(cfg.Workers))
		} else {
			s.sem = nil
		}
	}
	next := make(map[string]*limiter, len(cfg.RatePerHour))
	for platform, perHour := range cfg.RatePerHour {
		if perHour <= 0 {
			continue
		}
		platform = strings.ToLower(platform)
		if cur, ok := s.limiters[platform]; ok && cur.perHour == perHour {
			next[platform] = cur
			continue
		}
		next[platform] = &limiter{perHour: perHour, lim: rate.NewLimiter(rate.Limit(perHour/3600), 1)}
	}
	s.limiters = next
	s.mu.Unlock()

	if old.TickInterval != 0 && old.TickInterval != cfg.TickInterval {
		s.log.Info("tick interval changed", logx.Duration("from", old.TickInterval), logx.Duration("to", cfg.TickInterval))
		s.poke()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// StopBudget reports the current config's StopBudget.
func (s *Scheduler) StopBudget() time.Duration { return s.config().StopBudget() }

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Restore loads persisted entries into the table. Entries that no longer
// parse are logged and dropped; only a store failure is returned.
func (s *Scheduler) Restore(ctx context.Context) error {
	entries, err := s.store.LoadSchedule(ctx)
	if err != nil {
		return err
	}
	if err := s.table.Restore(entries); err != nil {
		s.log.Warn("skipped invalid schedule entries", logx.Err(err))
	}
	s.log.Info("schedule restored", logx.Int("entries", s.table.Len()))
	s.publishCounts()
	return nil
}

// Run evaluates the table every tick until ctx is cancelled, then drains
// in-flight jobs and flushes every snapshot.
func (s *Scheduler) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errs.Conflict("scheduler.run", "scheduler already running")
	}
	s.running = true
	s.jobCtx = jobCtx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.jobCtx = context.Background()
		s.mu.Unlock()
	}()

	s.log.Info("scheduler started", logx.Duration("tick", s.config().TickInterval), logx.Int("entries", s.table.Len()))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.shutdown(cancelJobs)
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.config().TickInterval)
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.config().TickInterval)
		}
	}
}

// Tick dispatches every entry due now and returns how many were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	s.metrics.Tick()
	now := s.now()
	due := s.table.Due(now)
	started := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if s.dispatch(ctx, e, now) {
			started++
		}
	}
	if len(due) > 0 {
		s.log.Debug("tick", logx.Int("due", len(due)), logx.Int("started", started))
	}
	s.publishCounts()
	return started
}

func (s *Scheduler) dispatch(ctx context.Context, e model.ScheduleEntry, now time.Time) bool {
	key := e.Key()

	s.mu.Lock()
	lim := s.limiters[e.Platform]
	sem := s.sem
	jobCtx := s.jobCtx
	s.mu.Unlock()

	var reservation *rate.Reservation
	if lim != nil {
		reservation = lim.lim.ReserveN(now, 1)
		if !reservation.OK() || reservation.DelayFrom(now) > 0 {
			reservation.CancelAt(now)
			s.metrics.Skipped("rate_limited")
			s.log.Debug("dispatch deferred by rate limit", logx.String("entry", key.String()))
			return false
		}
	}

	if _, err := s.table.MarkRunning(key); err != nil {
		if reservation != nil {
			reservation.CancelAt(now)
		}
		s.metrics.Skipped("not_idle")
		return false
	}

	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.table.Release(key)
			if reservation != nil {
				reservation.CancelAt(now)
			}
			s.metrics.Skipped("shutdown")
			return false
		}
	}

	s.metrics.Dispatched(e.Platform)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.metrics.Done()
		if sem != nil {
			defer sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job goroutine panic", logx.String("entry", key.String()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				s.report(key, e.Provider, runner.Outcome{Record: model.JobRecord{Status: model.JobFailure}})
			}
		}()
		out := s.runner.Run(jobCtx, runner.Job{AccountID: e.AccountID, Provider: e.Provider, Platform: e.Platform})
		s.report(key, e.Provider, out)
	}()
	return true
}

// report folds an outcome back into the table and flushes the snapshot.
func (s *Scheduler) report(key model.EntryKey, provider model.Provider, out runner.Outcome) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if out.PersistErr != nil {
		s.metrics.PersistError()
		s.log.Error("job record lost", logx.String("entry", key.String()), logx.String("code", errs.Code(out.PersistErr)), logx.Err(out.PersistErr))
	}
	e, err := s.table.MarkResult(key, out.Result(), s.now())
	if err != nil {
		// Removed (or replaced) while running; nothing left to update.
		s.log.Debug("result for unknown entry dropped", logx.String("entry", key.String()), logx.Err(err))
		return
	}
	s.log.Debug("entry rescheduled", logx.String("entry", key.String()), logx.Time("next_run_at", e.NextRunAt))
	_ = s.flushLocked(provider)
}

// flushLocked writes provider's snapshot. Caller holds flushMu.
func (s *Scheduler) flushLocked(provider model.Provider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.store.SaveSchedule(ctx, provider, s.table.Snapshot(provider)); err != nil {
		s.metrics.PersistError()
		s.log.Error("schedule snapshot not persisted", logx.String("provider", string(provider)), logx.Err(err))
		return errs.Wrap(errs.KindPersistence, "save_schedule", err)
	}
	return nil
}

func (s *Scheduler) flushAll() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	var errList []error
	for _, p := range model.Providers() {
		if err := s.flushLocked(p); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (s *Scheduler) shutdown(cancelJobs context.CancelFunc) error {
	grace := s.config().ShutdownGrace
	s.log.Info("scheduler stopping", logx.Duration("grace", grace))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn("grace period expired, cancelling in-flight jobs")
		cancelJobs()
		select {
		case <-done:
		case <-time.After(cancelWait):
			s.log.Warn("jobs did not report after cancellation; they resume as idle on restart")
		}
	}

	err := s.flushAll()
	s.log.Info("scheduler stopped")
	return err
}

// Wait blocks until every dispatched job has reported.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) publishCounts() {
	counts := map[model.EntryStatus]int{}
	for _, e := range s.table.List() {
		counts[e.Status]++
	}
	s.metrics.SetEntries(counts)
}

func entryKey(accountID, platform string) (model.EntryKey, error) {
	p, err := model.NormalizePlatform(platform)
	if err != nil {
		return model.EntryKey{}, errs.Validation("schedule", "%v", err)
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return model.EntryKey{}, errs.Validation("schedule", "account id required")
	}
	return model.EntryKey{AccountID: id, Platform: p}, nil
}
