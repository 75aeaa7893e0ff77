package scheduler

import (
	"context"

	"autopost/internal/errs"
	"autopost/internal/model"
	"autopost/internal/runner"
	"autopost/internal/schedule"
	logx "autopost/pkg/logx"
)

// AddEntry schedules platform for an existing account and persists the
// snapshot. When the snapshot cannot be written the entry is rolled back.
func (s *Scheduler) AddEntry(ctx context.Context, accountID, platform, intervalSpec string) (model.ScheduleEntry, error) {
	key, err := entryKey(accountID, platform)
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	acc, err := s.store.FindAccount(ctx, key.AccountID)
	if err != nil {
		return model.ScheduleEntry{}, err
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	e, err := s.table.Add(schedule.NewEntry{
		AccountID:    acc.ID,
		Provider:     acc.Provider,
		Platform:     key.Platform,
		IntervalSpec: intervalSpec,
	}, s.now())
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	if err := s.flushLocked(acc.Provider); err != nil {
		s.table.Remove(key.AccountID, key.Platform)
		return model.ScheduleEntry{}, err
	}
	s.log.Info("schedule entry added",
		logx.String("entry", key.String()),
		logx.String("spec", e.IntervalSpec),
		logx.Time("next_run_at", e.NextRunAt),
	)
	s.publishCounts()
	return e, nil
}

// RemoveEntry is idempotent. A job already running for the entry finishes
// but its result no longer reschedules anything.
func (s *Scheduler) RemoveEntry(ctx context.Context, accountID, platform string) error {
	_ = ctx
	key, err := entryKey(accountID, platform)
	if err != nil {
		return err
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	e, ok := s.table.Get(key)
	if !ok {
		return nil
	}
	s.table.Remove(key.AccountID, key.Platform)
	if err := s.flushLocked(e.Provider); err != nil {
		s.revert(e, model.ScheduleEntry{}, true)
		return err
	}
	s.log.Info("schedule entry removed", logx.String("entry", key.String()))
	s.publishCounts()
	return nil
}

// SetDisabled pauses or resumes an entry.
func (s *Scheduler) SetDisabled(ctx context.Context, accountID, platform string, disabled bool) (model.ScheduleEntry, error) {
	_ = ctx
	key, err := entryKey(accountID, platform)
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	prev, ok := s.table.Get(key)
	if !ok {
		return model.ScheduleEntry{}, errs.NotFound("set_disabled", "schedule entry %s not found", key)
	}
	e, err := s.table.SetDisabled(key, disabled, s.now())
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	if err := s.flushLocked(e.Provider); err != nil {
		s.revert(prev, e, false)
		return model.ScheduleEntry{}, err
	}
	s.publishCounts()
	return e, nil
}

// revert restores prev after a failed flush so the unpersisted change is
// not written out later by an unrelated flush. Caller holds flushMu.
func (s *Scheduler) revert(prev, cur model.ScheduleEntry, removed bool) {
	ok, err := s.table.Revert(prev, cur, removed)
	switch {
	case err != nil:
		s.log.Error("schedule entry rollback failed", logx.String("entry", prev.Key().String()), logx.Err(err))
	case !ok:
		s.log.Warn("schedule entry changed before rollback", logx.String("entry", prev.Key().String()))
	}
}

// Entries lists the table ordered by account id, then platform.
func (s *Scheduler) Entries() []model.ScheduleEntry { return s.table.List() }

// RemoveAccount deletes the account and its entries. The store removes the
// persisted entries in the same write as the account.
func (s *Scheduler) RemoveAccount(ctx context.Context, provider model.Provider, id string) (bool, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	ok, err := s.store.RemoveAccount(ctx, provider, id)
	if err != nil {
		return false, err
	}
	removed := s.table.RemoveAccount(id)
	s.log.Info("account removed", logx.String("account_id", id), logx.Int("entries", len(removed)))
	s.publishCounts()
	return ok, nil
}

// RunOnce executes platform for accountID immediately. When an idle entry
// exists the run goes through the running gate and reschedules it; a
// running entry is a conflict. Disabled or missing entries are not touched.
func (s *Scheduler) RunOnce(ctx context.Context, accountID, platform string) (runner.Outcome, error) {
	key, err := entryKey(accountID, platform)
	if err != nil {
		return runner.Outcome{}, err
	}
	acc, err := s.store.FindAccount(ctx, key.AccountID)
	if err != nil {
		return runner.Outcome{}, err
	}

	gated := false
	if e, ok := s.table.Get(key); ok {
		switch e.Status {
		case model.EntryRunning:
			return runner.Outcome{}, errs.Conflict("run_once", "schedule entry %s is already running", key)
		case model.EntryIdle:
			if _, err := s.table.MarkRunning(key); err != nil {
				return runner.Outcome{}, err
			}
			gated = true
		}
	}

	s.metrics.Dispatched(key.Platform)
	out := s.runner.Run(ctx, runner.Job{AccountID: acc.ID, Provider: acc.Provider, Platform: key.Platform})
	s.metrics.Done()
	if gated {
		s.report(key, acc.Provider, out)
	}
	if out.Err != nil {
		return out, out.Err
	}
	return out, out.PersistErr
}
