package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of an interval spec.
type SpecKind int

const (
	SpecPeriod SpecKind = iota
	SpecClock
	SpecCron
)

func (k SpecKind) String() string {
	switch k {
	case SpecPeriod:
		return "period"
	case SpecClock:
		return "clock"
	case SpecCron:
		return "cron"
	default:
		return "unknown"
	}
}

type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Spec is a parsed interval spec.
//
// Supported forms:
//   - Period: "every 24h", "@every 90m", "24h", "2d", "interval:6h"
//   - Clock times (daily, scheduler timezone): "10:00,16:00", "at 10:00 16:00", "daily@09:30"
//   - Cron: "cron:0 */6 * * *", "0 9 * * 1-5", "@daily"
type Spec struct {
	Kind  SpecKind
	Every time.Duration
	Times []ClockTime
	Cron  string

	scheds []cron.Schedule
}

var (
	reClock     = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reClockList = regexp.MustCompile(`^\d{1,2}:\d{2}(\s*[,\s]\s*\d{1,2}:\d{2})*$`)
	reDays      = regexp.MustCompile(`^(\d+)d(.*)$`)

	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSpec parses raw into a Spec.
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("interval spec required")
	}
	low := strings.ToLower(s)

	// Explicit prefixes.
	for _, p := range []string{"cron:"} {
		if strings.HasPrefix(low, p) {
			return parseCron(strings.TrimSpace(s[len(p):]))
		}
	}
	for _, p := range []string{"interval:", "every:", "@every ", "every "} {
		if strings.HasPrefix(low, p) {
			return parsePeriod(strings.TrimSpace(s[len(p):]))
		}
	}
	for _, p := range []string{"at:", "at ", "daily@", "daily "} {
		if strings.HasPrefix(low, p) {
			return parseClock(strings.TrimSpace(s[len(p):]))
		}
	}

	// Heuristics: a list of HH:MM is clock times; '@' or whitespace is cron;
	// anything else must be a duration.
	if reClockList.MatchString(s) {
		return parseClock(s)
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCron(s)
	}
	if sp, err := parsePeriod(s); err == nil {
		return sp, nil
	}
	return Spec{}, fmt.Errorf(
		"invalid interval spec %q (use 'every 24h', clock times like '10:00,16:00', or cron like 'cron:0 9 * * *')",
		raw,
	)
}

// MustParseSpec is ParseSpec for tests and constants.
func MustParseSpec(raw string) Spec {
	sp, err := ParseSpec(raw)
	if err != nil {
		panic(err)
	}
	return sp
}

// String renders the canonical form, which ParseSpec accepts.
func (s Spec) String() string {
	switch s.Kind {
	case SpecPeriod:
		return "every " + formatPeriod(s.Every)
	case SpecClock:
		parts := make([]string, 0, len(s.Times))
		for _, t := range s.Times {
			parts = append(parts, t.String())
		}
		return strings.Join(parts, ",")
	case SpecCron:
		return "cron:" + s.Cron
	default:
		return ""
	}
}

func parsePeriod(v string) (Spec, error) {
	d, err := parseDuration(v)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Kind: SpecPeriod, Every: d}, nil
}

// parseDuration accepts Go durations plus a leading day count ("2d", "1d12h").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("period required")
	}
	var d time.Duration
	rest := v
	if m := reDays.FindStringSubmatch(v); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid period %q", v)
		}
		d = time.Duration(n) * 24 * time.Hour
		rest = strings.TrimSpace(m[2])
	}
	if rest != "" {
		x, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q (use Go durations like '90m' or '24h', optionally prefixed by days like '2d')", v)
		}
		d += x
	}
	if d <= 0 {
		return 0, fmt.Errorf("period must be > 0")
	}
	return d, nil
}

func formatPeriod(d time.Duration) string {
	day := 24 * time.Hour
	if d >= day && d%day == 0 {
		return strconv.Itoa(int(d/day)) + "d"
	}
	return d.String()
}

func parseClock(v string) (Spec, error) {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return Spec{}, fmt.Errorf("at least one clock time required")
	}
	seen := map[ClockTime]bool{}
	times := make([]ClockTime, 0, len(fields))
	for _, f := range fields {
		h, m, err := parseHHMM(f)
		if err != nil {
			return Spec{}, err
		}
		ct := ClockTime{Hour: h, Minute: m}
		if seen[ct] {
			continue
		}
		seen[ct] = true
		times = append(times, ct)
	}
	sort.Slice(times, func(i, j int) bool {
		if times[i].Hour != times[j].Hour {
			return times[i].Hour < times[j].Hour
		}
		return times[i].Minute < times[j].Minute
	})
	scheds := make([]cron.Schedule, 0, len(times))
	for _, t := range times {
		sc, err := cronParser.Parse(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour))
		if err != nil {
			return Spec{}, err
		}
		scheds = append(scheds, sc)
	}
	return Spec{Kind: SpecClock, Times: times, scheds: scheds}, nil
}

func parseCron(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	if strings.HasPrefix(strings.ToLower(expr), "@every") {
		return parsePeriod(strings.TrimSpace(expr[len("@every"):]))
	}
	sc, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Cron: expr, scheds: []cron.Schedule{sc}}, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	m := reClock.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	mi, err := strconv.Atoi(m[2])
	if err != nil || mi < 0 || mi > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, mi, nil
}
