package tariff

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffd/internal/model"
	"tariffd/internal/store"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func midnightSchedule() model.ScheduleMap {
	return model.ScheduleMap{
		model.Monday:  {{"22:00", "24:00"}},
		model.Tuesday: {{"00:00", "06:00"}},
	}
}

func TestEvaluateMidnightCrossing(t *testing.T) {
	sched := midnightSchedule()

	cases := []struct {
		name string
		now  time.Time
		want Result
	}{
		{"monday noon", at(1, 12, 0), Result{model.StateNormal, "next reduced-rate: 22:00 - Tomorrow 06:00"}},
		{"monday window start", at(1, 22, 0), Result{model.StateReduced, "22:00 - Tomorrow 06:00"}},
		{"monday 23:00", at(1, 23, 0), Result{model.StateReduced, "22:00 - Tomorrow 06:00"}},
		{"monday 23:30", at(1, 23, 30), Result{model.StateReduced, "22:00 - Tomorrow 06:00"}},
		{"tuesday midnight", at(2, 0, 0), Result{model.StateReduced, "Yesterday 22:00 - 06:00"}},
		{"tuesday 05:00", at(2, 5, 0), Result{model.StateReduced, "Yesterday 22:00 - 06:00"}},
		{"tuesday 05:59", at(2, 5, 59), Result{model.StateReduced, "Yesterday 22:00 - 06:00"}},
		{"tuesday end is exclusive", at(2, 6, 0), Result{model.StateNormal, InfoNoUpcoming}},
		{"wednesday", at(3, 1, 0), Result{model.StateNormal, InfoNoUpcoming}},
		{"sunday looks ahead to monday", at(7, 23, 0), Result{model.StateNormal, "next reduced-rate: Tomorrow 22:00 - Tomorrow 24:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EvaluateSchedule(sched, tc.now))
		})
	}
}

func TestEvaluateWeekWraparound(t *testing.T) {
	sched := model.ScheduleMap{model.Monday: {{"00:00", "06:00"}}}

	// Sunday evening sees Monday as tomorrow.
	got := EvaluateSchedule(sched, at(7, 23, 0))
	assert.Equal(t, Result{model.StateNormal, "next reduced-rate: Tomorrow 00:00 - Tomorrow 06:00"}, got)

	got = EvaluateSchedule(sched, at(8, 3, 0))
	assert.Equal(t, Result{model.StateReduced, "00:00 - 06:00"}, got)

	// A Sunday window ending at 24:00 is over at Monday 00:00.
	sched = model.ScheduleMap{model.Sunday: {{"20:00", "24:00"}}}
	got = EvaluateSchedule(sched, at(1, 0, 0))
	assert.Equal(t, Result{model.StateNormal, InfoNoUpcoming}, got)

	got = EvaluateSchedule(sched, at(7, 21, 0))
	assert.Equal(t, Result{model.StateReduced, "20:00 - Tomorrow 00:00"}, got)
}

func TestEvaluateBoundaryProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		start := rnd.Intn(model.MinutesPerDay - 1)
		end := start + 1 + rnd.Intn(model.MinutesPerDay-start)
		day := 1 + rnd.Intn(7)
		wd := model.WeekdayOf(at(day, 0, 0).Weekday())

		sched := model.ScheduleMap{wd: {{FormatMinutes(start), formatDayEnd(end)}}}
		startAt := at(day, 0, start)

		got := EvaluateSchedule(sched, startAt)
		require.Equal(t, model.StateReduced, got.State, "start=%d end=%d", start, end)
		require.Equal(t, describe(model.Span{Start: start, End: end}), got.Info)

		if end < model.MinutesPerDay {
			got = EvaluateSchedule(sched, at(day, 0, end))
			require.Equal(t, model.StateNormal, got.State, "start=%d end=%d", start, end)
		}
	}
}

// formatDayEnd renders 1440 as "24:00" like the source tables do.
func formatDayEnd(m int) string {
	if m == model.MinutesPerDay {
		return "24:00"
	}
	return FormatMinutes(m)
}

func TestEvaluateOverlappingPairs(t *testing.T) {
	sched := model.ScheduleMap{
		model.Wednesday: {{"09:30", "12:00"}, {"08:00", "10:00"}, {"09:00", "09:30"}, {"13:00", "14:00"}},
	}
	assert.Equal(t, Result{model.StateReduced, "08:00 - 12:00"}, EvaluateSchedule(sched, at(3, 11, 0)))
	assert.Equal(t, Result{model.StateNormal, "next reduced-rate: 13:00 - 14:00"}, EvaluateSchedule(sched, at(3, 12, 0)))
	assert.Equal(t, Result{model.StateNormal, "next reduced-rate: 08:00 - 12:00"}, EvaluateSchedule(sched, at(3, 7, 59)))
}

func TestEvaluateMalformedPairIsLiteral(t *testing.T) {
	sched := model.ScheduleMap{model.Wednesday: {{"22:00", "06:00"}}}

	assert.Equal(t, Result{model.StateNormal, "next reduced-rate: 22:00 - 06:00"}, EvaluateSchedule(sched, at(3, 12, 0)))
	assert.Equal(t, Result{model.StateNormal, InfoNoUpcoming}, EvaluateSchedule(sched, at(3, 23, 0)))
}

func TestEvaluateBadCellParsesAsMidnight(t *testing.T) {
	sched := model.ScheduleMap{model.Friday: {{"garbage", "02:00"}}}
	assert.Equal(t, Result{model.StateReduced, "00:00 - 02:00"}, EvaluateSchedule(sched, at(5, 1, 0)))
}

func TestEvaluatorStoreStates(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEvaluator(s)

	assert.Equal(t, Result{model.StateUnknown, InfoWaiting}, e.Evaluate(at(1, 12, 0)))

	require.NoError(t, s.Save(midnightSchedule()))
	assert.Equal(t, Result{model.StateReduced, "22:00 - Tomorrow 06:00"}, e.Evaluate(at(1, 23, 0)))

	s.Corrupt()
	assert.Equal(t, Result{model.StateUnknown, InfoReadError}, e.Evaluate(at(1, 23, 0)))
}

func TestEvaluatorEmptySchedule(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Save(model.ScheduleMap{}))
	assert.Equal(t, Result{model.StateNormal, InfoNoUpcoming}, NewEvaluator(s).Evaluate(at(1, 12, 0)))
}

func TestTimelineShiftsAndKeepsTieOrder(t *testing.T) {
	sched := model.ScheduleMap{
		model.Sunday:  {{"23:00", "24:00"}},
		model.Monday:  {{"10:00", "11:00"}, {"10:00", "12:00"}},
		model.Tuesday: {{"00:00", "01:00"}},
	}
	got := Timeline(sched, model.Monday)
	assert.Equal(t, []model.Span{
		{Start: -60, End: 0},
		{Start: 600, End: 660},
		{Start: 600, End: 720},
		{Start: 1440, End: 1500},
	}, got)
}

func TestMerge(t *testing.T) {
	assert.Nil(t, Merge(nil))

	in := []model.Span{{Start: -120, End: 0}, {Start: 0, End: 360}, {Start: 400, End: 500}, {Start: 450, End: 460}, {Start: 500, End: 510}, {Start: 600, End: 700}}
	want := []model.Span{{Start: -120, End: 360}, {Start: 400, End: 510}, {Start: 600, End: 700}}
	assert.Equal(t, want, Merge(in))
	assert.Equal(t, model.Span{Start: -120, End: 0}, in[0], "input must not be modified")
}

func TestMergeIdempotent(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		spans := make([]model.Span, rnd.Intn(30))
		for j := range spans {
			s := rnd.Intn(3*model.MinutesPerDay) - model.MinutesPerDay
			spans[j] = model.Span{Start: s, End: s + rnd.Intn(300)}
		}
		sort.SliceStable(spans, func(a, b int) bool { return spans[a].Start < spans[b].Start })

		once := Merge(spans)
		assert.Equal(t, once, Merge(once))
	}
}

func TestToMinutes(t *testing.T) {
	cases := map[string]int{
		"24:00":    1440,
		"00:00":    0,
		"06:30":    390,
		" 7: 05":   425,
		"23:59":    1439,
		"22:00:00": 0,
		"abc":      0,
		"":         0,
		"7":        0,
		"xx:10":    0,
		"10:yy":    0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ToMinutes(in), "input %q", in)
	}
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "00:00", FormatMinutes(0))
	assert.Equal(t, "22:00", FormatMinutes(1320))
	assert.Equal(t, "Tomorrow 00:00", FormatMinutes(1440))
	assert.Equal(t, "Tomorrow 06:00", FormatMinutes(1800))
	assert.Equal(t, "Tomorrow 24:00", FormatMinutes(2880))
	assert.Equal(t, "Yesterday 22:00", FormatMinutes(-120))
	assert.Equal(t, "Yesterday 00:00", FormatMinutes(-1440))
}
