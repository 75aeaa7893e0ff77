// Package model holds the persisted entities: accounts, schedule entries,
// job records and affiliate products.
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Provider is the closed set of account kinds. Each provider has its own
// durable document.
type Provider string

const (
	ProviderYouTube   Provider = "youtube"
	ProviderTwitter   Provider = "twitter"
	ProviderAffiliate Provider = "affiliate"
	ProviderOutreach  Provider = "outreach"
)

// Providers returns every known provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderYouTube, ProviderTwitter, ProviderAffiliate, ProviderOutreach}
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderYouTube, ProviderTwitter, ProviderAffiliate, ProviderOutreach:
		return true
	}
	return false
}

func (p Provider) String() string { return string(p) }

// ParseProvider normalizes s and rejects anything outside the enumeration.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q (want one of youtube, twitter, affiliate, outreach)", s)
	}
	return p, nil
}

type Account struct {
	ID         string    `json:"id"`
	Provider   Provider  `json:"provider"`
	Nickname   string    `json:"nickname"`
	ProfileRef string    `json:"profile_ref,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AccountUpdate carries the mutable fields of an account. Nil fields are left
// untouched.
type AccountUpdate struct {
	Nickname   *string
	ProfileRef *string
	Topic      *string
}

func (u AccountUpdate) Empty() bool {
	return u.Nickname == nil && u.ProfileRef == nil && u.Topic == nil
}

type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobFailure JobStatus = "failure"
	JobTimeout JobStatus = "timeout"
)

// JobRecord is one finished execution. Records are append-only and outlive
// the account they belong to.
type JobRecord struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Provider       Provider        `json:"provider"`
	Platform       string          `json:"platform"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Status         JobStatus       `json:"status"`
	ResultMetadata json.RawMessage `json:"result_metadata,omitempty"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
}

func (r JobRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type EntryStatus string

const (
	EntryIdle     EntryStatus = "idle"
	EntryRunning  EntryStatus = "running"
	EntryDisabled EntryStatus = "disabled"
)

type LastResult string

const (
	ResultNone    LastResult = "none"
	ResultSuccess LastResult = "success"
	ResultFailure LastResult = "failure"
)

// ResultOf folds a job status into the entry-level result.
func ResultOf(s JobStatus) LastResult {
	if s == JobSuccess {
		return ResultSuccess
	}
	return ResultFailure
}

// EntryKey identifies a schedule entry. There is at most one entry per key.
type EntryKey struct {
	AccountID string
	Platform  string
}

func (k EntryKey) String() string { return k.AccountID + "/" + k.Platform }

type ScheduleEntry struct {
	AccountID    string      `json:"account_id"`
	Provider     Provider    `json:"provider"`
	Platform     string      `json:"platform"`
	IntervalSpec string      `json:"interval_spec"`
	NextRunAt    time.Time   `json:"next_run_at"`
	Status       EntryStatus `json:"status"`
	LastResult   LastResult  `json:"last_result"`
	LastRunAt    time.Time   `json:"last_run_at,omitempty"`
}

func (e ScheduleEntry) Key() EntryKey {
	return EntryKey{AccountID: e.AccountID, Platform: e.Platform}
}

// Product is an affiliate product pitched by one affiliate account.
type Product struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	AffiliateLink string    `json:"affiliate_link"`
	CreatedAt     time.Time `json:"created_at"`
}

var rePlatform = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// NormalizePlatform lower-cases and validates a platform name. Platforms are
// open-ended (one per registered action) but must be safe identifiers.
func NormalizePlatform(s string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(s))
	if p == "" {
		return "", fmt.Errorf("platform required")
	}
	if !rePlatform.MatchString(p) {
		return "", fmt.Errorf("invalid platform %q (use letters, digits, '-', '_' or '.')", s)
	}
	return p, nil
}
