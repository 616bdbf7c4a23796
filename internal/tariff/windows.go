package tariff

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "tariffd/internal/log"
	"tariffd/internal/model"
)

// MaxWindowDays bounds the look-ahead of Windows.
const MaxWindowDays = 31

var rruleWeekdays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// Windows lists the merged reduced-rate windows that overlap
// [from, from+days). The day before from is included in the expansion so a
// window that started yesterday and is still running is reported whole.
//
// Each weekday's pairs recur weekly (FREQ=WEEKLY;BYDAY=<day>); occurrences
// are placed on a minute axis relative to the first expanded midnight,
// merged with the same rule Evaluate uses and converted back to wall-clock
// times in from's location.
func Windows(sched model.ScheduleMap, from time.Time, days int) []model.Window {
	if days <= 0 {
		return nil
	}
	if days > MaxWindowDays {
		days = MaxWindowDays
	}

	loc := from.Location()
	y, m, d := from.Date()
	base := time.Date(y, m, d-1, 0, 0, 0, 0, loc)
	// One extra day on the far side catches windows that start before the
	// horizon and continue past midnight.
	last := time.Date(y, m, d+days+1, 0, 0, 0, 0, loc)
	horizon := from.Add(time.Duration(days) * 24 * time.Hour)

	var spans []model.Span
	for day := model.Monday; day <= model.Sunday; day++ {
		pairs := sched[day]
		if len(pairs) == 0 {
			continue
		}
		rule, err := rrule.NewRRule(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Dtstart:   base,
			Byweekday: []rrule.Weekday{rruleWeekdays[day]},
		})
		if err != nil {
			appLog.Error("tariff: weekly rule failed", err, "weekday", int(day))
			continue
		}
		for _, occ := range rule.Between(base, last, true) {
			offset := daysBetween(base, occ) * model.MinutesPerDay
			for _, p := range pairs {
				spans = append(spans, model.Span{
					Start: ToMinutes(p.Start()) + offset,
					End:   ToMinutes(p.End()) + offset,
				})
			}
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	out := make([]model.Window, 0)
	for _, s := range Merge(spans) {
		if s.End <= s.Start {
			continue
		}
		w := model.Window{
			Start: time.Date(base.Year(), base.Month(), base.Day(), 0, s.Start, 0, 0, loc),
			End:   time.Date(base.Year(), base.Month(), base.Day(), 0, s.End, 0, 0, loc),
		}
		if !w.End.After(from) || !w.Start.Before(horizon) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// daysBetween counts calendar days from a to b, ignoring DST length changes.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
