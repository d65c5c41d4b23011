package recurrence

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
)

func mustLocal(t *testing.T, s string) time.Time {
	t.Helper()
	wall, err := ParseLocal(s)
	require.NoError(t, err)
	return wall
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func keys(occs []Occurrence) []string {
	out := make([]string, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.Key)
	}
	return out
}

func starts(occs []Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.Start)
	}
	return out
}

func TestResolveLocal(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		wall string
		want time.Time
	}{
		{name: "standard time", wall: "2021-01-15T09:00", want: utc("2021-01-15T14:00:00Z")},
		{name: "daylight time", wall: "2021-07-15T09:00", want: utc("2021-07-15T13:00:00Z")},
		{name: "spring-forward gap is pushed forward", wall: "2021-03-14T02:30", want: utc("2021-03-14T07:30:00Z")},
		{name: "fall-back overlap takes the earlier instant", wall: "2021-11-07T01:30", want: utc("2021-11-07T05:30:00Z")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveLocal(mustLocal(t, tt.wall), ny)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestExpand(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	farPast := utc("2000-01-01T00:00:00Z")
	farFuture := utc("2030-01-01T00:00:00Z")

	tests := []struct {
		name       string
		rule       *Rule
		dtstart    string
		loc        *time.Location
		from, to   time.Time
		wantKeys   []string
		wantStarts []time.Time
	}{
		{
			name: "single occurrence", dtstart: "2021-05-01T10:00", loc: time.UTC, from: farPast, to: farFuture,
			wantKeys: []string{"2021-05-01T10:00"},
		},
		{
			name: "single occurrence outside window", dtstart: "2021-05-01T10:00", loc: time.UTC,
			from: utc("2021-06-01T00:00:00Z"), to: farFuture,
		},
		{
			name: "daily across spring-forward", rule: &Rule{Frequency: Daily}, dtstart: "2021-03-12T02:30", loc: ny,
			from: utc("2021-03-12T00:00:00Z"), to: utc("2021-03-16T00:00:00Z"),
			wantKeys: []string{"2021-03-12T02:30", "2021-03-13T02:30", "2021-03-14T02:30", "2021-03-15T02:30"},
			wantStarts: []time.Time{
				utc("2021-03-12T07:30:00Z"), utc("2021-03-13T07:30:00Z"),
				utc("2021-03-14T07:30:00Z"), // 03:30 EDT
				utc("2021-03-15T06:30:00Z"),
			},
		},
		{
			name: "daily across fall-back", rule: &Rule{Frequency: Daily}, dtstart: "2021-11-06T01:30", loc: ny,
			from: utc("2021-11-06T00:00:00Z"), to: utc("2021-11-09T00:00:00Z"),
			wantKeys:   []string{"2021-11-06T01:30", "2021-11-07T01:30", "2021-11-08T01:30"},
			wantStarts: []time.Time{utc("2021-11-06T05:30:00Z"), utc("2021-11-07T05:30:00Z"), utc("2021-11-08T06:30:00Z")},
		},
		{
			name: "weekly keeps wall clock", rule: &Rule{Frequency: Weekly}, dtstart: "2021-03-08T09:00", loc: ny,
			from: farPast, to: utc("2021-03-20T00:00:00Z"),
			wantKeys:   []string{"2021-03-08T09:00", "2021-03-15T09:00"},
			wantStarts: []time.Time{utc("2021-03-08T14:00:00Z"), utc("2021-03-15T13:00:00Z")},
		},
		{
			name: "weekly by weekday, every other week, count includes exdates",
			rule: &Rule{Frequency: Weekly, Interval: 2, ByWeekday: []Weekday{FR, MO, WE}, Count: 5, ExDates: []string{"2021-01-20"}},
			dtstart: "2021-01-06T10:00", loc: time.UTC, from: farPast, to: farFuture,
			wantKeys: []string{"2021-01-06T10:00", "2021-01-08T10:00", "2021-01-18T10:00", "2021-01-22T10:00"},
		},
		{
			name: "monthly skips missing days", rule: &Rule{Frequency: Monthly, ByMonthDay: []int{31}, Count: 4},
			dtstart: "2021-01-31T09:00", loc: time.UTC, from: farPast, to: farFuture,
			wantKeys: []string{"2021-01-31T09:00", "2021-03-31T09:00", "2021-05-31T09:00", "2021-07-31T09:00"},
		},
		{
			name: "monthly last day", rule: &Rule{Frequency: Monthly, ByMonthDay: []int{-1}, Count: 4},
			dtstart: "2021-01-31T09:00", loc: time.UTC, from: farPast, to: farFuture,
			wantKeys: []string{"2021-01-31T09:00", "2021-02-28T09:00", "2021-03-31T09:00", "2021-04-30T09:00"},
		},
		{
			name: "monthly several days, every 2 months", rule: &Rule{Frequency: Monthly, Interval: 2, ByMonthDay: []int{15, 1}},
			dtstart: "2021-01-10T09:00", loc: time.UTC, from: farPast, to: utc("2021-06-01T00:00:00Z"),
			wantKeys: []string{"2021-01-15T09:00", "2021-03-01T09:00", "2021-03-15T09:00", "2021-05-01T09:00", "2021-05-15T09:00"},
		},
		{
			name: "until is inclusive", rule: &Rule{Frequency: Daily, Until: "2021-05-03"},
			dtstart: "2021-05-01T18:00", loc: time.UTC, from: farPast, to: farFuture,
			wantKeys: []string{"2021-05-01T18:00", "2021-05-02T18:00", "2021-05-03T18:00"},
		},
		{
			name: "window far from dtstart", rule: &Rule{Frequency: Daily},
			dtstart: "2000-01-01T08:00", loc: time.UTC, from: utc("2021-06-10T00:00:00Z"), to: utc("2021-06-13T00:00:00Z"),
			wantKeys: []string{"2021-06-10T08:00", "2021-06-11T08:00", "2021-06-12T08:00"},
		},
		{
			name: "window far from dtstart, every 3 weeks", rule: &Rule{Frequency: Weekly, Interval: 3},
			dtstart: "2000-01-03T08:00", loc: time.UTC, from: utc("2021-06-01T00:00:00Z"), to: utc("2021-07-01T00:00:00Z"),
			// 2000-01-03 and 2021-06-07 are 1118 weeks apart (1118 % 3 == 2)
			wantKeys: []string{"2021-06-14T08:00"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs, err := Expand(tt.rule, mustLocal(t, tt.dtstart), tt.loc, time.Hour, tt.from, tt.to)
			require.NoError(t, err)

			if tt.wantKeys == nil {
				assert.Empty(t, occs)
				return
			}
			assert.Equal(t, tt.wantKeys, keys(occs))
			if tt.wantStarts != nil {
				got := starts(occs)
				require.Len(t, got, len(tt.wantStarts))
				for i := range got {
					assert.True(t, tt.wantStarts[i].Equal(got[i]), "start[%d] = %v, want %v", i, got[i], tt.wantStarts[i])
				}
			}
			for _, o := range occs {
				assert.Equal(t, time.Hour, o.End.Sub(o.Start))
			}
		})
	}
}

func TestExpand_bounds(t *testing.T) {
	occs, err := Expand(&Rule{Frequency: Daily}, mustLocal(t, "2021-01-01T08:00"), time.UTC, time.Hour,
		utc("2021-01-01T00:00:00Z"), utc("2030-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Len(t, occs, MaxOccurrences)

	_, err = Expand(&Rule{Frequency: Daily}, mustLocal(t, "2021-01-01T08:00"), nil, time.Hour,
		utc("2021-01-01T00:00:00Z"), utc("2021-02-01T00:00:00Z"))
	assert.Error(t, err)

	occs, err = Expand(&Rule{Frequency: Daily}, mustLocal(t, "2021-01-01T08:00"), time.UTC, time.Hour,
		utc("2021-02-01T00:00:00Z"), utc("2021-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, occs)
}

func TestRule_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "daily", rule: Rule{Frequency: Daily}},
		{name: "weekly by weekday", rule: Rule{Frequency: Weekly, ByWeekday: []Weekday{MO, TH}, Until: "2021-12-31"}},
		{name: "monthly by month day", rule: Rule{Frequency: Monthly, ByMonthDay: []int{1, -1}, Count: 12}},
		{name: "unknown frequency", rule: Rule{Frequency: "yearly"}, wantErr: true},
		{name: "unknown weekday", rule: Rule{Frequency: Weekly, ByWeekday: []Weekday{"XX"}}, wantErr: true},
		{name: "month day out of range", rule: Rule{Frequency: Monthly, ByMonthDay: []int{32}}, wantErr: true},
		{name: "month day zero", rule: Rule{Frequency: Monthly, ByMonthDay: []int{0}}, wantErr: true},
		{name: "bad until", rule: Rule{Frequency: Daily, Until: "31/12/2021"}, wantErr: true},
		{name: "bad exdate", rule: Rule{Frequency: Daily, ExDates: []string{"tomorrow"}}, wantErr: true},
		{name: "count and until", rule: Rule{Frequency: Daily, Count: 3, Until: "2021-12-31"}, wantErr: true},
		{name: "weekdays on daily", rule: Rule{Frequency: Daily, ByWeekday: []Weekday{MO}}, wantErr: true},
		{name: "month days on weekly", rule: Rule{Frequency: Weekly, ByMonthDay: []int{1}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			err := rule.Validate(validate, "recurrence.")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.GreaterOrEqual(t, rule.Interval, 1)
		})
	}

	rule := Rule{Frequency: Weekly, ByWeekday: []Weekday{FR, MO, FR}, ExDates: []string{"2021-02-01", "2021-01-01", "2021-02-01"}}
	require.NoError(t, rule.Validate(validate, ""))
	assert.Equal(t, []Weekday{MO, FR}, rule.ByWeekday)
	assert.Equal(t, []string{"2021-01-01", "2021-02-01"}, rule.ExDates)
}

func TestDetectConflicts(t *testing.T) {
	at := func(hm string) time.Time { return utc("2021-05-03T" + hm + ":00Z") }

	a := Slot{Ref: "a", Keys: []string{"trainer:t1", "location:room 1"}, Start: at("09:00"), End: at("10:00")}
	b := Slot{Ref: "b", Keys: []string{"trainer:t1", "location:room 2"}, Start: at("09:30"), End: at("10:30")}
	c := Slot{Ref: "c", Keys: []string{"trainer:t1"}, Start: at("10:00"), End: at("11:00")}
	d := Slot{Ref: "d", Keys: []string{"trainer:t2", "location:room 1"}, Start: at("09:45"), End: at("09:50")}
	e := Slot{Ref: "e", Keys: []string{"trainer:t2"}, Start: at("12:00"), End: at("13:00")}

	conflicts := DetectConflicts([]Slot{e, d, c, b, a})

	type pair struct{ key, a, b string }
	got := make([]pair, 0, len(conflicts))
	for _, c := range conflicts {
		got = append(got, pair{c.Key, c.A.Ref, c.B.Ref})
	}
	assert.Equal(t, []pair{
		{"location:room 1", "a", "d"},
		{"trainer:t1", "a", "b"},
		{"trainer:t1", "b", "c"},
	}, got)

	assert.Empty(t, DetectConflicts([]Slot{a, e}))
	assert.Empty(t, DetectConflicts(nil))
}
