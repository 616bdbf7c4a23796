// Package ics publishes reduced-rate windows as an iCalendar feed so that
// calendar clients can show when cheap electricity is available.
package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"tariffd/internal/model"
)

const (
	defaultProductID = "-//tariffd//reduced-rate windows//EN"
	defaultName      = "NT windows"
	defaultSummary   = "NT"
	uidDomain        = "tariffd"
)

// ExportOptions tweak the generated calendar.
type ExportOptions struct {
	// Name is the X-WR-CALNAME shown by clients.
	Name string
	// Summary is used for every event.
	Summary string
	// Stamp is written as DTSTAMP. Zero means time.Now.
	Stamp time.Time
}

// Export builds a VCALENDAR with one VEVENT per window. Times are written in
// UTC; the UID is derived from the window start so repeated exports of the
// same window update rather than duplicate the event.
func Export(windows []model.Window, opts ExportOptions) string {
	if opts.Name == "" {
		opts.Name = defaultName
	}
	if opts.Summary == "" {
		opts.Summary = defaultSummary
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(defaultProductID)
	cal.SetXWRCalName(opts.Name)

	for _, w := range windows {
		ev := cal.AddEvent(UID(w))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetStartAt(w.Start.UTC())
		ev.SetEndAt(w.End.UTC())
		ev.SetSummary(opts.Summary)
		ev.SetDescription(fmt.Sprintf("%s - %s", w.Start.Format("Mon 15:04"), w.End.Format("Mon 15:04")))
	}

	return cal.Serialize()
}

// UID returns the stable event identifier for w.
func UID(w model.Window) string {
	return fmt.Sprintf("%s@%s", w.Start.UTC().Format("20060102T150405Z"), uidDomain)
}
