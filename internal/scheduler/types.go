// Package scheduler drives recurring execution: every tick it asks the
// schedule table what is due, gates each entry through the running state and
// hands it to the runner on its own goroutine.
//
// Table changes made through the scheduler are flushed to the account store
// as per-provider snapshots so a restart resumes where the process stopped.
package scheduler

import (
	"context"
	"time"

	"autopost/internal/model"
	"autopost/internal/runner"
)

const (
	DefaultTickInterval  = 60 * time.Second
	DefaultShutdownGrace = 30 * time.Second

	// cancelWait bounds how long shutdown waits for cancelled jobs to report.
	cancelWait = 5 * time.Second
)

type Config struct {
	TickInterval time.Duration
	// Workers bounds concurrently running jobs. 0 means unbounded.
	Workers int
	// ShutdownGrace is how long in-flight jobs may finish before they are
	// cancelled. 0 cancels them at once; negative means the default.
	ShutdownGrace time.Duration
	// RatePerHour caps dispatches per platform. Missing or 0 means unlimited.
	RatePerHour map[string]float64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.ShutdownGrace < 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// StopBudget is the longest shutdown can take before the final flush:
// the grace period plus the wait for cancelled jobs to report.
func (c Config) StopBudget() time.Duration {
	return c.withDefaults().ShutdownGrace + cancelWait
}

// Store is the slice of the account store the scheduler depends on.
type Store interface {
	FindAccount(ctx context.Context, id string) (model.Account, error)
	RemoveAccount(ctx context.Context, provider model.Provider, id string) (bool, error)
	SaveSchedule(ctx context.Context, provider model.Provider, entries []model.ScheduleEntry) error
	LoadSchedule(ctx context.Context) ([]model.ScheduleEntry, error)
}

// Runner executes one job and always returns an outcome.
type Runner interface {
	Run(ctx context.Context, job runner.Job) runner.Outcome
}

// Metrics receives scheduler events. *metrics.Collector implements it.
type Metrics interface {
	Dispatched(platform string)
	Done()
	Skipped(reason string)
	PersistError()
	Tick()
	SetEntries(counts map[model.EntryStatus]int)
}

type nopMetrics struct{}

func (nopMetrics) Dispatched(string)                    {}
func (nopMetrics) Done()                                {}
func (nopMetrics) Skipped(string)                       {}
func (nopMetrics) PersistError()                        {}
func (nopMetrics) Tick()                                {}
func (nopMetrics) SetEntries(map[model.EntryStatus]int) {}
