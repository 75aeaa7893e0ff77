package schedule

import (
	"testing"
	"time"
)

func TestParseSpecVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  SpecKind
		every time.Duration
		canon string
	}{
		{name: "every", raw: "every 24h", kind: SpecPeriod, every: 24 * time.Hour, canon: "every 1d"},
		{name: "at-every", raw: "@every 90m", kind: SpecPeriod, every: 90 * time.Minute, canon: "every 1h30m0s"},
		{name: "bare duration", raw: "6h", kind: SpecPeriod, every: 6 * time.Hour, canon: "every 6h0m0s"},
		{name: "days", raw: "2d", kind: SpecPeriod, every: 48 * time.Hour, canon: "every 2d"},
		{name: "days and hours", raw: "interval:1d12h", kind: SpecPeriod, every: 36 * time.Hour, canon: "every 36h0m0s"},
		{name: "clock list", raw: "16:00, 10:00", kind: SpecClock, canon: "10:00,16:00"},
		{name: "clock at", raw: "at 9:30", kind: SpecClock, canon: "09:30"},
		{name: "clock dedup", raw: "daily@10:00,10:00", kind: SpecClock, canon: "10:00"},
		{name: "cron prefix", raw: "cron:0 */6 * * *", kind: SpecCron, canon: "cron:0 */6 * * *"},
		{name: "cron bare", raw: "0 9 * * 1-5", kind: SpecCron, canon: "cron:0 9 * * 1-5"},
		{name: "cron descriptor", raw: "@daily", kind: SpecCron, canon: "cron:@daily"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.raw)
			if err != nil {
				t.Fatalf("ParseSpec(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == SpecPeriod && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.String() != tt.canon {
				t.Fatalf("String() = %q, want %q", got.String(), tt.canon)
			}
			again, err := ParseSpec(got.String())
			if err != nil {
				t.Fatalf("canonical form %q does not parse: %v", got.String(), err)
			}
			if again.String() != got.String() {
				t.Fatalf("canonical form not stable: %q -> %q", got.String(), again.String())
			}
		})
	}
}

func TestParseSpecInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "25:00", "10:75", "every 0s", "every -1h", "cron:99 * * * *"} {
		if _, err := ParseSpec(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

func TestPeriodNextIsDriftFree(t *testing.T) {
	t.Parallel()
	sp := MustParseSpec("every 24h")
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	first := sp.First(t0, time.UTC)
	if !first.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("First = %v, want %v", first, t0.Add(24*time.Hour))
	}

	// Late by one second: stays on the grid.
	next := sp.Next(first, first.Add(time.Second), time.UTC)
	if want := t0.Add(48 * time.Hour); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}

	// Five days of downtime: one prompt run, then the first future slot.
	late := first.Add(5*24*time.Hour + time.Hour)
	next = sp.Next(first, late, time.UTC)
	if want := t0.Add(7 * 24 * time.Hour); !next.Equal(want) {
		t.Fatalf("Next after outage = %v, want %v", next, want)
	}
	if !next.After(late) {
		t.Fatalf("Next %v must be after attempt %v", next, late)
	}

	// Early manual run re-anchors one period after the attempt.
	early := first.Add(-time.Hour)
	next = sp.Next(first, early, time.UTC)
	if want := early.Add(24 * time.Hour); !next.Equal(want) {
		t.Fatalf("Next after early run = %v, want %v", next, want)
	}
}

func TestClockNext(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	sp := MustParseSpec("10:00,16:00")
	nine := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)

	if got, want := sp.First(nine, loc), time.Date(2026, 3, 1, 10, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("First = %v, want %v", got, want)
	}
	if got, want := sp.Next(time.Time{}, time.Date(2026, 3, 1, 10, 2, 0, 0, loc), loc), time.Date(2026, 3, 1, 16, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if got, want := sp.Next(time.Time{}, time.Date(2026, 3, 1, 16, 0, 0, 0, loc), loc), time.Date(2026, 3, 2, 10, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("Next at exact slot = %v, want %v", got, want)
	}
	if got, want := sp.Next(time.Time{}, time.Date(2026, 3, 1, 23, 59, 0, 0, loc), loc), time.Date(2026, 3, 2, 10, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("Next rollover = %v, want %v", got, want)
	}
}

func TestCronNext(t *testing.T) {
	t.Parallel()
	sp := MustParseSpec("cron:30 */6 * * *")
	at := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	if got, want := sp.Next(time.Time{}, at, time.UTC), time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}
