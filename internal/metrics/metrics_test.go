package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autopost/internal/model"
)

func TestCollectorRecordsJobs(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Dispatched("twitter")
	c.ObserveJob("twitter", model.JobTimeout, 3*time.Second)
	c.Done()
	c.Skipped("rate_limited")
	c.SetEntries(map[model.EntryStatus]int{model.EntryIdle: 2, model.EntryDisabled: 1})

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`autopost_jobs_total{platform="twitter",status="timeout"} 1`,
		`autopost_jobs_duration_seconds_count{platform="twitter"} 1`,
		`autopost_scheduler_dispatched_total{platform="twitter"} 1`,
		`autopost_scheduler_in_flight 0`,
		`autopost_scheduler_skipped_total{reason="rate_limited"} 1`,
		`autopost_scheduler_entries{status="idle"} 2`,
		`autopost_scheduler_entries{status="running"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in metrics output", want)
		}
	}
}

func TestAlertFailuresReadsSource(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var n int64 = 3
	if err := c.AlertFailures(func() int64 { return n }); err != nil {
		t.Fatalf("AlertFailures: %v", err)
	}
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if want := "autopost_log_alert_failures_total 3"; !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("missing %q in metrics output", want)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.Dispatched("x")
	c.ObserveJob("x", model.JobSuccess, time.Second)
	c.Done()
	c.PersistError()
	c.Tick()
	c.SetEntries(nil)
	if err := c.AlertFailures(func() int64 { return 1 }); err != nil {
		t.Fatalf("AlertFailures on nil: %v", err)
	}

	h := c.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}
}
