package accounts

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"autopost/internal/errs"
	"autopost/internal/model"
)

// NewRecordID returns a short random id for job records and products.
func NewRecordID() string {
	id, err := gonanoid.New(16)
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// AppendJobRecord appends rec to the history of rec.Provider. The account
// does not need to exist anymore. I/O failures return PersistenceError.
func (s *Store) AppendJobRecord(ctx context.Context, rec model.JobRecord) error {
	const op = "append_job_record"
	if rec.AccountID == "" {
		return errs.Validation(op, "account_id is required")
	}
	switch rec.Status {
	case model.JobSuccess:
		rec.ErrorDetail = ""
	case model.JobFailure, model.JobTimeout:
		if strings.TrimSpace(rec.ErrorDetail) == "" {
			rec.ErrorDetail = string(rec.Status)
		}
	default:
		return errs.Validation(op, "invalid status %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = NewRecordID()
	}
	return s.mutate(ctx, op, rec.Provider, func(d *document) error {
		d.History = append(d.History, rec)
		return nil
	})
}

// ListJobRecords returns every record of accountID across providers,
// oldest first. Records of removed accounts are included.
func (s *Store) ListJobRecords(ctx context.Context, accountID string) ([]model.JobRecord, error) {
	_ = ctx
	var out []model.JobRecord
	for _, p := range model.Providers() {
		for _, r := range s.snapshot(p).History {
			if r.AccountID == accountID {
				out = append(out, r)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// SaveSchedule replaces the persisted schedule snapshot of provider.
func (s *Store) SaveSchedule(ctx context.Context, provider model.Provider, entries []model.ScheduleEntry) error {
	cp := cloneOf(entries)
	return s.mutate(ctx, "save_schedule", provider, func(d *document) error {
		d.Schedule = cp
		return nil
	})
}

// LoadSchedule returns the persisted schedule entries of all providers.
func (s *Store) LoadSchedule(ctx context.Context) ([]model.ScheduleEntry, error) {
	_ = ctx
	var out []model.ScheduleEntry
	for _, p := range model.Providers() {
		out = append(out, s.snapshot(p).Schedule...)
	}
	return out, nil
}
