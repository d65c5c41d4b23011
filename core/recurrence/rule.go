// Package recurrence expands recurring session rules into concrete occurrences.
//
// Rules are evaluated on the wall clock of the session's time zone: an occurrence keeps
// the local hour and minute of its start across DST changes. Local times that do not exist
// (spring-forward gap) are pushed forward by the length of the gap, and local times that
// exist twice (fall-back overlap) resolve to the earlier instant.
package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const (
	// LocalLayout is the layout of wall-clock date-times (no offset).
	LocalLayout = "2006-01-02T15:04"
	// DateLayout is the layout of local dates used by Until and ExDates.
	DateLayout = "2006-01-02"

	// MaxPeriods bounds the number of candidate periods (days, weeks or months) walked per expansion.
	MaxPeriods = 5000
	// MaxOccurrences bounds the number of occurrences returned per expansion.
	MaxOccurrences = 1000
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var Frequencies = []Frequency{Daily, Weekly, Monthly}

// Weekday is a two-letter day code, as in iCalendar.
type Weekday string

const (
	MO Weekday = "MO"
	TU Weekday = "TU"
	WE Weekday = "WE"
	TH Weekday = "TH"
	FR Weekday = "FR"
	SA Weekday = "SA"
	SU Weekday = "SU"
)

var weekdays = map[Weekday]time.Weekday{
	MO: time.Monday,
	TU: time.Tuesday,
	WE: time.Wednesday,
	TH: time.Thursday,
	FR: time.Friday,
	SA: time.Saturday,
	SU: time.Sunday,
}

// Std returns the time.Weekday of wd.
func (wd Weekday) Std() time.Weekday { return weekdays[wd] }

func (wd Weekday) Valid() bool {
	_, ok := weekdays[wd]
	return ok
}

// mondayIndex returns 0 for Monday .. 6 for Sunday.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Rule describes how a session repeats.
type Rule struct {
	Frequency  Frequency `json:"frequency" yaml:"frequency" validate:"required,rrulefreq"`
	Interval   int       `json:"interval,omitempty" yaml:"interval,omitempty" validate:"omitempty,min=1,max=366"`
	ByWeekday  []Weekday `json:"by_weekday,omitempty" yaml:"by_weekday,omitempty" validate:"omitempty,weekdays"`
	ByMonthDay []int     `json:"by_month_day,omitempty" yaml:"by_month_day,omitempty" validate:"omitempty,dive,min=-31,max=31,ne=0"`
	Count      int       `json:"count,omitempty" yaml:"count,omitempty" validate:"omitempty,min=1,max=1000"`
	Until      string    `json:"until,omitempty" yaml:"until,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExDates    []string  `json:"exdates,omitempty" yaml:"exdates,omitempty" validate:"omitempty,dive,datetime=2006-01-02"`
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Validate checks the rule's fields and the rules that tie them together.
// Field errors are prefixed with `prefix` (eg: "recurrence.").
func (r *Rule) Validate(validate *validator.Validate, prefix string) error {
	if err := validate.Struct(r); err != nil {
		return err
	}

	var flds []core.FieldError
	if r.Count > 0 && r.Until != "" {
		flds = append(flds, core.FieldError{Field: prefix + "until", Error: "count and until are mutually exclusive"})
	}
	if len(r.ByWeekday) > 0 && r.Frequency != Weekly {
		flds = append(flds, core.FieldError{Field: prefix + "by_weekday", Error: "only allowed with a weekly frequency"})
	}
	if len(r.ByMonthDay) > 0 && r.Frequency != Monthly {
		flds = append(flds, core.FieldError{Field: prefix + "by_month_day", Error: "only allowed with a monthly frequency"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New(flds[0].Error), flds...)
	}

	r.normalize()
	return nil
}

// normalize sorts and de-duplicates list fields so that equal rules compare equal.
func (r *Rule) normalize() {
	if r.Interval < 1 {
		r.Interval = 1
	}
	if len(r.ByWeekday) > 0 {
		seen := make(map[Weekday]bool, len(r.ByWeekday))
		wds := make([]Weekday, 0, len(r.ByWeekday))
		for _, wd := range r.ByWeekday {
			wd = Weekday(strings.ToUpper(string(wd)))
			if !seen[wd] {
				seen[wd] = true
				wds = append(wds, wd)
			}
		}
		sort.Slice(wds, func(i, j int) bool { return mondayIndex(wds[i].Std()) < mondayIndex(wds[j].Std()) })
		r.ByWeekday = wds
	}
	if len(r.ByMonthDay) > 0 {
		seen := make(map[int]bool, len(r.ByMonthDay))
		days := make([]int, 0, len(r.ByMonthDay))
		for _, d := range r.ByMonthDay {
			if !seen[d] {
				seen[d] = true
				days = append(days, d)
			}
		}
		sort.Ints(days)
		r.ByMonthDay = days
	}
	r.ExDates = core.UniqueStrings(r.ExDates)
	sort.Strings(r.ExDates)
}

func (r Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%d", r.Frequency, r.interval())
	if len(r.ByWeekday) > 0 {
		wds := make([]string, 0, len(r.ByWeekday))
		for _, wd := range r.ByWeekday {
			wds = append(wds, string(wd))
		}
		fmt.Fprintf(&b, " on %s", strings.Join(wds, ","))
	}
	if len(r.ByMonthDay) > 0 {
		fmt.Fprintf(&b, " days %v", r.ByMonthDay)
	}
	if r.Count > 0 {
		fmt.Fprintf(&b, " x%d", r.Count)
	}
	if r.Until != "" {
		fmt.Fprintf(&b, " until %s", r.Until)
	}
	return b.String()
}

// ParseLocal parses a wall-clock date-time (LocalLayout). The result carries the wall clock in
// its UTC fields and must not be used as an instant.
func ParseLocal(s string) (time.Time, error) {
	t, err := time.Parse(LocalLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing local date-time")
	}
	return t, nil
}

// ParseDate parses a local date (DateLayout).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing local date")
	}
	return t, nil
}
