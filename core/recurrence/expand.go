package recurrence

import (
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
)

// Occurrence is one materialized slot of a rule.
type Occurrence struct {
	// Key identifies the occurrence within its series: the nominal local start (LocalLayout),
	// before any DST gap adjustment.
	Key   string
	Start time.Time // UTC
	End   time.Time // UTC
}

const day = 24 * time.Hour

// Expand returns, in chronological order, the occurrences of rule whose start falls in [from, to).
// dtstart is the wall-clock start of the series (see ParseLocal) in loc. A nil rule yields dtstart only.
func Expand(rule *Rule, dtstart time.Time, loc *time.Location, dur time.Duration, from, to time.Time) ([]Occurrence, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(loc, "loc"),
		vala.GreaterThan(int(dur/time.Minute), 0, "dur"),
	).Check(); err != nil {
		return nil, errors.Wrap(err, "expanding recurrence")
	}
	if !from.Before(to) {
		return nil, nil
	}

	dtstart = time.Date(dtstart.Year(), dtstart.Month(), dtstart.Day(), dtstart.Hour(), dtstart.Minute(), 0, 0, time.UTC)
	emit := func(wall time.Time) (Occurrence, bool) {
		start := resolveLocal(wall, loc)
		if start.Before(from) || !start.Before(to) {
			return Occurrence{}, false
		}
		return Occurrence{Key: wall.Format(LocalLayout), Start: start, End: start.Add(dur)}, true
	}

	if rule == nil {
		if occ, ok := emit(dtstart); ok {
			return []Occurrence{occ}, nil
		}
		return nil, nil
	}

	var until time.Time
	if rule.Until != "" {
		u, err := ParseDate(rule.Until)
		if err != nil {
			return nil, err
		}
		until = u
	}
	exdates := make(map[string]bool, len(rule.ExDates))
	for _, d := range rule.ExDates {
		exdates[d] = true
	}

	it := newIterator(rule, dtstart)
	// Without a count, periods ending before `from` cannot contribute: jump over them.
	// Two days of slack cover any UTC offset.
	if rule.Count == 0 {
		it.skipTo(from.UTC().Add(-2 * day))
	}

	var (
		occs  []Occurrence
		count int
	)
	for periods := 0; periods < MaxPeriods; periods++ {
		for _, wall := range it.next() {
			if wall.Before(dtstart) {
				continue
			}
			if !until.IsZero() && wall.Truncate(day).After(until) {
				return occs, nil
			}
			count++
			if rule.Count > 0 && count > rule.Count {
				return occs, nil
			}
			if exdates[wall.Format(DateLayout)] {
				continue
			}
			// walls are increasing, so are their instants: stop past the window
			if !resolveLocal(wall, loc).Before(to) {
				return occs, nil
			}
			if occ, ok := emit(wall); ok {
				occs = append(occs, occ)
				if len(occs) >= MaxOccurrences {
					return occs, nil
				}
			}
		}
	}
	return occs, nil
}

// iterator walks a rule period by period (a day, a week or a month, times the interval),
// yielding the candidate wall-clock starts of each period in order.
type iterator struct {
	rule    *Rule
	dtstart time.Time
	period  int
}

func newIterator(rule *Rule, dtstart time.Time) *iterator {
	return &iterator{rule: rule, dtstart: dtstart}
}

// skipTo moves the iterator to the last period starting before t.
func (it *iterator) skipTo(t time.Time) {
	if !t.After(it.dtstart) {
		return
	}
	n := it.rule.interval()
	switch it.rule.Frequency {
	case Daily:
		it.period = int(t.Sub(it.dtstart)/day) / n
	case Weekly:
		it.period = int(t.Sub(it.weekStart())/(7*day)) / n
	case Monthly:
		months := (t.Year()-it.dtstart.Year())*12 + int(t.Month()) - int(it.dtstart.Month())
		it.period = months / n
	}
	if it.period > 0 {
		it.period--
	}
}

func (it *iterator) weekStart() time.Time {
	d := it.dtstart
	return d.AddDate(0, 0, -mondayIndex(d.Weekday()))
}

func (it *iterator) next() []time.Time {
	p := it.period
	it.period++
	n := it.rule.interval()
	h, m := it.dtstart.Hour(), it.dtstart.Minute()

	switch it.rule.Frequency {
	case Daily:
		return []time.Time{it.dtstart.AddDate(0, 0, p*n)}

	case Weekly:
		week := it.weekStart().AddDate(0, 0, 7*p*n)
		if len(it.rule.ByWeekday) == 0 {
			return []time.Time{week.AddDate(0, 0, mondayIndex(it.dtstart.Weekday()))}
		}
		walls := make([]time.Time, 0, len(it.rule.ByWeekday))
		for _, wd := range sortedWeekdays(it.rule.ByWeekday) {
			walls = append(walls, week.AddDate(0, 0, mondayIndex(wd.Std())))
		}
		return walls

	case Monthly:
		first := time.Date(it.dtstart.Year(), it.dtstart.Month()+time.Month(p*n), 1, h, m, 0, 0, time.UTC)
		dim := daysIn(first.Year(), first.Month())
		days := it.rule.ByMonthDay
		if len(days) == 0 {
			days = []int{it.dtstart.Day()}
		}
		var walls []time.Time
		seen := make(map[int]bool, len(days))
		for _, d := range resolveMonthDays(days, dim) {
			if seen[d] {
				continue
			}
			seen[d] = true
			walls = append(walls, time.Date(first.Year(), first.Month(), d, h, m, 0, 0, time.UTC))
		}
		return walls
	}
	return nil
}

func sortedWeekdays(wds []Weekday) []Weekday {
	var idx [7]bool
	for _, wd := range wds {
		if wd.Valid() {
			idx[mondayIndex(wd.Std())] = true
		}
	}
	out := make([]Weekday, 0, len(wds))
	for _, wd := range []Weekday{MO, TU, WE, TH, FR, SA, SU} {
		if idx[mondayIndex(wd.Std())] {
			out = append(out, wd)
		}
	}
	return out
}

// resolveMonthDays turns month days (negative ones count from the end) into sorted,
// existing days of a month of dim days. Days the month does not have are dropped.
func resolveMonthDays(days []int, dim int) []int {
	var present [32]bool
	for _, d := range days {
		if d < 0 {
			d = dim + d + 1
		}
		if d >= 1 && d <= dim {
			present[d] = true
		}
	}
	out := make([]int, 0, len(days))
	for d := 1; d <= dim; d++ {
		if present[d] {
			out = append(out, d)
		}
	}
	return out
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// resolveLocal returns the instant at which the wall clock of loc shows `wall`.
// Ambiguous wall times resolve to the earlier instant. Wall times inside a DST gap are
// interpreted with the offset in force before the gap, which moves them forward by the gap.
func resolveLocal(wall time.Time, loc *time.Location) time.Time {
	_, before := wall.Add(-day).In(loc).Zone()
	_, after := wall.Add(day).In(loc).Zone()

	var (
		best  time.Time
		found bool
	)
	for _, off := range []int{before, after} {
		t := wall.Add(-time.Duration(off) * time.Second)
		lt := t.In(loc)
		if lt.Year() == wall.Year() && lt.Month() == wall.Month() && lt.Day() == wall.Day() &&
			lt.Hour() == wall.Hour() && lt.Minute() == wall.Minute() {
			if !found || t.Before(best) {
				best, found = t, true
			}
		}
	}
	if found {
		return best.UTC()
	}
	return wall.Add(-time.Duration(before) * time.Second).UTC()
}
