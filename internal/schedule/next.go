package schedule

import "time"

// First returns the initial next_run_at for an entry registered at now:
// now+period for periods, the nearest occurrence strictly after now otherwise.
func (s Spec) First(now time.Time, loc *time.Location) time.Time {
	if s.Kind == SpecPeriod {
		return now.Add(s.Every)
	}
	return s.fireAfter(now, loc)
}

// Next returns next_run_at after an attempt finished at `at` for the run that
// was due at slot.
//
// Periods stay on the grid anchored at slot: the result is the first
// slot+k*period strictly after at, so a long outage produces one prompt run
// instead of a catch-up burst, and repeated attempts do not accumulate drift.
// An attempt made before its slot (a manual run) re-anchors the grid at at.
// Clock and cron specs return the first occurrence strictly after at.
//
// The result is always strictly after at.
func (s Spec) Next(slot, at time.Time, loc *time.Location) time.Time {
	if s.Kind != SpecPeriod {
		return s.fireAfter(at, loc)
	}
	if s.Every <= 0 {
		return at
	}
	if slot.IsZero() || slot.After(at) {
		return at.Add(s.Every)
	}
	next := slot.Add(s.Every)
	if next.After(at) {
		return next
	}
	k := at.Sub(slot)/s.Every + 1
	next = slot.Add(k * s.Every)
	for !next.After(at) {
		next = next.Add(s.Every)
	}
	return next
}

func (s Spec) fireAfter(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	var best time.Time
	for _, sc := range s.scheds {
		n := sc.Next(local)
		if n.IsZero() {
			continue
		}
		if best.IsZero() || n.Before(best) {
			best = n
		}
	}
	if best.IsZero() {
		// Unsatisfiable cron expression (e.g. Feb 30): park it a year out.
		return t.AddDate(1, 0, 0)
	}
	return best.In(t.Location())
}
