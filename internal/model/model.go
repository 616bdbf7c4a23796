package model

import "time"

// MinutesPerDay is also the largest valid minute-of-day value ("24:00").
const MinutesPerDay = 1440

// Weekday is the canonical day index, Monday=0 … Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf converts Go's Sunday-based numbering.
func WeekdayOf(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// Valid reports whether w is within 0..6.
func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// Shift returns the weekday offset days away, wrapping in both directions.
func (w Weekday) Shift(offset int) Weekday {
	return Weekday(((int(w)+offset)%7 + 7) % 7)
}

// Pair is one raw (start, end) cell pair exactly as read from the schedule
// table, e.g. {"22:00", "24:00"}. Strings are parsed only at evaluation time.
type Pair [2]string

func (p Pair) Start() string { return p[0] }
func (p Pair) End() string   { return p[1] }

// ScheduleMap holds the reduced-rate pairs per weekday in table order.
type ScheduleMap map[Weekday][]Pair

// Clone returns a deep copy.
func (m ScheduleMap) Clone() ScheduleMap {
	if m == nil {
		return nil
	}
	out := make(ScheduleMap, len(m))
	for day, pairs := range m {
		cp := make([]Pair, len(pairs))
		copy(cp, pairs)
		out[day] = cp
	}
	return out
}

// Span is a half-open [Start, End) minute range. Values may lie outside
// 0..1440 once shifted onto a multi-day timeline.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether minute t falls inside the span.
func (s Span) Contains(t int) bool {
	return s.Start <= t && t < s.End
}

// State is the tariff state published to consumers.
type State string

const (
	StateUnknown State = "Unknown"
	// StateReduced is the off-peak (NT) rate.
	StateReduced State = "NT"
	// StateNormal is the standard (VT) rate.
	StateNormal State = "VT"
)

// Window is a concrete reduced-rate period in absolute time.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
