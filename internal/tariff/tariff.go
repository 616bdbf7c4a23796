// Package tariff decides whether a weekly reduced-rate (NT) schedule is
// active at a given instant.
//
// Evaluation lays yesterday, today and tomorrow side by side on one minute
// axis (offsets -1440, 0, +1440), sorts and merges the spans, and then looks
// up the current minute. This lets a window such as Monday 22:00-24:00
// followed by Tuesday 00:00-06:00 be reported as one period from either side
// of midnight.
package tariff

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	appLog "tariffd/internal/log"
	"tariffd/internal/model"
	"tariffd/internal/store"
)

const (
	InfoWaiting    = "waiting for data"
	InfoReadError  = "error reading data"
	InfoNoUpcoming = "no upcoming reduced-rate window"
	nextPrefix     = "next reduced-rate: "
)

// Result is the outcome of one evaluation.
type Result struct {
	State model.State `json:"state"`
	Info  string      `json:"info"`
}

// Evaluator reads the schedule store on every call and never caches it,
// so a freshly ingested schedule is picked up immediately.
type Evaluator struct {
	store store.Store
}

func NewEvaluator(s store.Store) *Evaluator {
	return &Evaluator{store: s}
}

// Evaluate reports the tariff state at now. Store failures degrade to
// StateUnknown instead of returning an error.
func (e *Evaluator) Evaluate(now time.Time) Result {
	sched, err := e.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrStoreMissing) {
			return Result{State: model.StateUnknown, Info: InfoWaiting}
		}
		appLog.Error("tariff: schedule store unreadable", err)
		return Result{State: model.StateUnknown, Info: InfoReadError}
	}
	return EvaluateSchedule(sched, now)
}

// EvaluateSchedule is the pure part of Evaluate.
func EvaluateSchedule(sched model.ScheduleMap, now time.Time) Result {
	day := model.WeekdayOf(now.Weekday())
	minute := now.Hour()*60 + now.Minute()

	merged := Merge(Timeline(sched, day))

	for _, s := range merged {
		if s.Contains(minute) {
			return Result{
				State: model.StateReduced,
				Info:  describe(s),
			}
		}
		if s.Start > minute {
			return Result{
				State: model.StateNormal,
				Info:  nextPrefix + describe(s),
			}
		}
	}
	return Result{State: model.StateNormal, Info: InfoNoUpcoming}
}

// Timeline flattens the pairs of the day before, the day itself and the day
// after onto a single minute axis and sorts them by start. Ties keep their
// original order (previous day first, then table order).
func Timeline(sched model.ScheduleMap, day model.Weekday) []model.Span {
	var spans []model.Span
	for offset := -1; offset <= 1; offset++ {
		shift := offset * model.MinutesPerDay
		for _, p := range sched[day.Shift(offset)] {
			spans = append(spans, model.Span{
				Start: ToMinutes(p.Start()) + shift,
				End:   ToMinutes(p.End()) + shift,
			})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

// Merge coalesces spans sorted by start: a span starting at or before the
// current end extends it. Touching spans ([a,b) and [b,c)) therefore merge.
// The input is not modified.
func Merge(spans []model.Span) []model.Span {
	if len(spans) == 0 {
		return nil
	}
	out := make([]model.Span, 0, len(spans))
	curr := spans[0]
	for _, next := range spans[1:] {
		if next.Start <= curr.End {
			if next.End > curr.End {
				curr.End = next.End
			}
			continue
		}
		out = append(out, curr)
		curr = next
	}
	return append(out, curr)
}

// ToMinutes parses "HH:MM" into minutes since midnight. "24:00" is 1440.
// Anything unparsable yields 0 rather than an error, so a single bad cell
// cannot take the whole schedule down.
func ToMinutes(s string) int {
	if s == "24:00" {
		return model.MinutesPerDay
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0
	}
	return h*60 + m
}

// FormatMinutes renders a timeline minute as HH:MM, prefixing "Tomorrow" or
// "Yesterday" when it lies outside the current day. Only one day of shift is
// undone.
func FormatMinutes(m int) string {
	prefix := ""
	switch {
	case m >= model.MinutesPerDay:
		prefix = "Tomorrow "
		m -= model.MinutesPerDay
	case m < 0:
		prefix = "Yesterday "
		m += model.MinutesPerDay
	}
	// Floor division keeps malformed negative values readable.
	h, mm := m/60, m%60
	if mm < 0 {
		h, mm = h-1, mm+60
	}
	return fmt.Sprintf("%s%02d:%02d", prefix, h, mm)
}

func describe(s model.Span) string {
	return FormatMinutes(s.Start) + " - " + FormatMinutes(s.End)
}
