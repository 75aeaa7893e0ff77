// Package schedule keeps the live set of schedule entries and answers
// "what is due now".
//
// The table is purely in-memory. Durability comes from snapshots written
// through the account store by the scheduler.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autopost/internal/errs"
	"autopost/internal/model"
)

// NewEntry is the input of Add.
type NewEntry struct {
	AccountID    string
	Provider     model.Provider
	Platform     string
	IntervalSpec string
}

type item struct {
	entry model.ScheduleEntry
	spec  Spec
}

type Table struct {
	mu      sync.Mutex
	loc     *time.Location
	entries map[model.EntryKey]*item
}

func NewTable(loc *time.Location) *Table {
	if loc == nil {
		loc = time.Local
	}
	return &Table{loc: loc, entries: map[model.EntryKey]*item{}}
}

// SetLocation changes the timezone used for clock-time and cron specs.
// Already computed next_run_at values are kept.
func (t *Table) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	t.mu.Lock()
	t.loc = loc
	t.mu.Unlock()
}

func (t *Table) Location() *time.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loc
}

// Add registers a new entry with next_run_at computed relative to now.
func (t *Table) Add(ne NewEntry, now time.Time) (model.ScheduleEntry, error) {
	const op = "schedule.add"
	accountID := strings.TrimSpace(ne.AccountID)
	if accountID == "" {
		return model.ScheduleEntry{}, errs.Validation(op, "account id required")
	}
	if !ne.Provider.Valid() {
		return model.ScheduleEntry{}, errs.Validation(op, "unknown provider %q", ne.Provider)
	}
	platform, err := model.NormalizePlatform(ne.Platform)
	if err != nil {
		return model.ScheduleEntry{}, errs.Validation(op, "%v", err)
	}
	spec, err := ParseSpec(ne.IntervalSpec)
	if err != nil {
		return model.ScheduleEntry{}, errs.Validation(op, "%v", err)
	}

	key := model.EntryKey{AccountID: accountID, Platform: platform}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; ok {
		return model.ScheduleEntry{}, errs.Conflict(op, "schedule entry %s already exists", key)
	}
	e := model.ScheduleEntry{
		AccountID:    accountID,
		Provider:     ne.Provider,
		Platform:     platform,
		IntervalSpec: spec.String(),
		NextRunAt:    spec.First(now, t.loc),
		Status:       model.EntryIdle,
		LastResult:   model.ResultNone,
	}
	t.entries[key] = &item{entry: e, spec: spec}
	return e, nil
}

// Remove deletes the entry for (accountID, platform). It is idempotent and
// reports whether something was removed.
func (t *Table) Remove(accountID, platform string) bool {
	key := model.EntryKey{AccountID: strings.TrimSpace(accountID), Platform: strings.ToLower(strings.TrimSpace(platform))}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// RemoveAccount drops every entry bound to accountID and returns them.
func (t *Table) RemoveAccount(accountID string) []model.ScheduleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.ScheduleEntry
	for k, it := range t.entries {
		if k.AccountID == accountID {
			out = append(out, it.entry)
			delete(t.entries, k)
		}
	}
	sortEntries(out)
	return out
}

func (t *Table) Get(key model.EntryKey) (model.ScheduleEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.entries[key]
	if !ok {
		return model.ScheduleEntry{}, false
	}
	return it.entry, true
}

// Due returns idle entries with next_run_at <= now, earliest first.
func (t *Table) Due(now time.Time) []model.ScheduleEntry {
	t.mu.Lock()
	out := make([]model.ScheduleEntry, 0, 8)
	for _, it := range t.entries {
		if it.entry.Status != model.EntryIdle {
			continue
		}
		if it.entry.NextRunAt.After(now) {
			continue
		}
		out = append(out, it.entry)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].NextRunAt.Before(out[j].NextRunAt)
		}
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Platform < out[j].Platform
	})
	return out
}

// MarkRunning moves an idle entry to running. It is the exclusive gate that
// keeps a slow job from being dispatched twice.
func (t *Table) MarkRunning(key model.EntryKey) (model.ScheduleEntry, error) {
	const op = "schedule.mark_running"
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.entries[key]
	if !ok {
		return model.ScheduleEntry{}, errs.NotFound(op, "schedule entry %s not found", key)
	}
	if it.entry.Status != model.EntryIdle {
		return model.ScheduleEntry{}, errs.Conflict(op, "schedule entry %s is %s", key, it.entry.Status)
	}
	it.entry.Status = model.EntryRunning
	return it.entry, nil
}

// MarkResult records the outcome of a running entry, returns it to idle and
// recomputes next_run_at from the attempt time.
func (t *Table) MarkResult(key model.EntryKey, result model.LastResult, at time.Time) (model.ScheduleEntry, error) {
	const op = "schedule.mark_result"
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.entries[key]
	if !ok {
		return model.ScheduleEntry{}, errs.NotFound(op, "schedule entry %s not found", key)
	}
	if it.entry.Status != model.EntryRunning {
		return model.ScheduleEntry{}, errs.Conflict(op, "schedule entry %s is %s, not running", key, it.entry.Status)
	}
	it.entry.Status = model.EntryIdle
	it.entry.LastResult = result
	it.entry.LastRunAt = at
	it.entry.NextRunAt = it.spec.Next(it.entry.NextRunAt, at, t.loc)
	return it.entry, nil
}

// Release returns a running entry to idle without touching next_run_at.
// Used when dispatch is abandoned before the action started.
func (t *Table) Release(key model.EntryKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if it, ok := t.entries[key]; ok && it.entry.Status == model.EntryRunning {
		it.entry.Status = model.EntryIdle
	}
}

// SetDisabled toggles idle <-> disabled. Enabling skips slots missed while
// the entry was disabled.
func (t *Table) SetDisabled(key model.EntryKey, disabled bool, now time.Time) (model.ScheduleEntry, error) {
	const op = "schedule.set_disabled"
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.entries[key]
	if !ok {
		return model.ScheduleEntry{}, errs.NotFound(op, "schedule entry %s not found", key)
	}
	switch {
	case disabled && it.entry.Status == model.EntryIdle:
		it.entry.Status = model.EntryDisabled
	case !disabled && it.entry.Status == model.EntryDisabled:
		it.entry.Status = model.EntryIdle
		if !it.entry.NextRunAt.After(now) {
			it.entry.NextRunAt = it.spec.Next(it.entry.NextRunAt, now, t.loc)
		}
	case it.entry.Status == model.EntryRunning:
		return model.ScheduleEntry{}, errs.Conflict(op, "schedule entry %s is running", key)
	}
	return it.entry, nil
}

// Revert undoes a change whose snapshot could not be persisted: prev goes
// back under its key if the table still holds cur there, or holds nothing
// when removed is true. It reports whether the table was changed.
func (t *Table) Revert(prev, cur model.ScheduleEntry, removed bool) (bool, error) {
	spec, err := ParseSpec(prev.IntervalSpec)
	if err != nil {
		return false, err
	}
	key := prev.Key()
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.entries[key]
	switch {
	case removed && ok:
		return false, nil
	case !removed && (!ok || !sameEntry(it.entry, cur)):
		return false, nil
	}
	t.entries[key] = &item{entry: prev, spec: spec}
	return true, nil
}

func sameEntry(a, b model.ScheduleEntry) bool {
	return a.Key() == b.Key() &&
		a.IntervalSpec == b.IntervalSpec &&
		a.Status == b.Status &&
		a.LastResult == b.LastResult &&
		a.NextRunAt.Equal(b.NextRunAt) &&
		a.LastRunAt.Equal(b.LastRunAt)
}

// List returns all entries ordered by account id, then platform.
func (t *Table) List() []model.ScheduleEntry {
	t.mu.Lock()
	out := make([]model.ScheduleEntry, 0, len(t.entries))
	for _, it := range t.entries {
		out = append(out, it.entry)
	}
	t.mu.Unlock()
	sortEntries(out)
	return out
}

// Snapshot returns the entries owned by provider, ready to persist.
func (t *Table) Snapshot(provider model.Provider) []model.ScheduleEntry {
	t.mu.Lock()
	out := make([]model.ScheduleEntry, 0, len(t.entries))
	for _, it := range t.entries {
		if it.entry.Provider == provider {
			out = append(out, it.entry)
		}
	}
	t.mu.Unlock()
	sortEntries(out)
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Restore loads persisted entries, replacing any entry with the same key.
// Entries persisted as running were interrupted mid-flight and come back idle
// with their old next_run_at, so they run promptly. Invalid entries are
// skipped and reported in the returned error.
func (t *Table) Restore(entries []model.ScheduleEntry) error {
	var bad []error
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		spec, err := ParseSpec(e.IntervalSpec)
		if err != nil {
			bad = append(bad, fmt.Errorf("entry %s: %w", e.Key(), err))
			continue
		}
		if e.Status == model.EntryRunning || e.Status == "" {
			e.Status = model.EntryIdle
		}
		if e.LastResult == "" {
			e.LastResult = model.ResultNone
		}
		t.entries[e.Key()] = &item{entry: e, spec: spec}
	}
	return errors.Join(bad...)
}

func sortEntries(es []model.ScheduleEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].AccountID != es[j].AccountID {
			return es[i].AccountID < es[j].AccountID
		}
		return es[i].Platform < es[j].Platform
	})
}
