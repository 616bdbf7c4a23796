// Package schedule turns the distributor's weekly NT table into the canonical
// per-weekday schedule and stores it.
package schedule

import (
	"errors"
	"fmt"
	"path/filepath"

	appLog "tariffd/internal/log"
	"tariffd/internal/model"
	"tariffd/internal/store"
)

// DefaultMarkerSuffix marks NT rows in column 0.
const DefaultMarkerSuffix = "|1"

// DefaultWeekdayNames are the Monday..Sunday labels used by Czech
// distributors in the validity column.
var DefaultWeekdayNames = []string{"Pondělí", "Úterý", "Středa", "Čtvrtek", "Pátek", "Sobota", "Neděle"}

// ErrEmptyTable is returned when the sheet has no data rows.
var ErrEmptyTable = errors.New("schedule table has no rows")

// ScheduleParseError reports a table that could not be read or understood.
type ScheduleParseError struct {
	Path string
	Err  error
}

func (e *ScheduleParseError) Error() string {
	if e.Path == "" {
		return "schedule parse failed: " + e.Err.Error()
	}
	return fmt.Sprintf("schedule parse failed for %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *ScheduleParseError) Unwrap() error { return e.Err }

// Options configure row filtering.
type Options struct {
	// WeekdayNames lists exactly seven names, Monday first. Matching is exact
	// and case-sensitive.
	WeekdayNames []string
	// MarkerSuffix selects NT rows by the end of column 0.
	MarkerSuffix string
}

// Ingestor parses schedule tables and replaces the stored schedule.
type Ingestor struct {
	store    store.Store
	weekdays map[string]model.Weekday
	marker   string
}

// NewIngestor validates opts and falls back to the defaults for empty fields.
func NewIngestor(s store.Store, opts Options) (*Ingestor, error) {
	names := opts.WeekdayNames
	if len(names) == 0 {
		names = DefaultWeekdayNames
	}
	if len(names) != 7 {
		return nil, fmt.Errorf("weekday names: expected 7, got %d", len(names))
	}
	weekdays := make(map[string]model.Weekday, 7)
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("weekday names: entry %d is empty", i)
		}
		if _, dup := weekdays[n]; dup {
			return nil, fmt.Errorf("weekday names: %q listed twice", n)
		}
		weekdays[n] = model.Weekday(i)
	}

	marker := opts.MarkerSuffix
	if marker == "" {
		marker = DefaultMarkerSuffix
	}

	return &Ingestor{store: s, weekdays: weekdays, marker: marker}, nil
}

// IngestFile reads a workbook or CSV export and ingests it.
func (in *Ingestor) IngestFile(path string) (model.ScheduleMap, error) {
	appLog.Info("processing schedule file", "file", filepath.Base(path))

	table, err := ReadFile(path)
	if err != nil {
		perr := &ScheduleParseError{Path: path, Err: err}
		appLog.Error("schedule file unreadable", perr)
		return nil, perr
	}
	return in.ingest(table, path)
}

// Ingest converts table into a ScheduleMap and saves it. The store is only
// written when the whole table was processed.
func (in *Ingestor) Ingest(table Table) (model.ScheduleMap, error) {
	return in.ingest(table, "")
}

// Parse applies the row rules without touching the store.
func (in *Ingestor) Parse(table Table) (model.ScheduleMap, error) {
	if len(table.Rows) == 0 {
		return nil, ErrEmptyTable
	}
	if len(table.Header) < minColumns {
		return nil, &ScheduleParseError{Err: fmt.Errorf("header has %d columns, need at least %d", len(table.Header), minColumns)}
	}

	sched := model.ScheduleMap{}
	for i, cells := range table.Rows {
		row, err := DecodeRow(cells)
		if err != nil {
			appLog.Debug("schedule row skipped", "row", i+2, "reason", err.Error())
			continue
		}
		if !row.HasMarker(in.marker) {
			continue
		}
		day, ok := in.weekdays[row.Day]
		if !ok {
			appLog.Debug("schedule row skipped", "row", i+2, "reason", "unknown weekday", "day", row.Day)
			continue
		}
		// A later row for the same weekday replaces the earlier one instead of
		// adding to it. TODO: confirm with a multi-row export whether the
		// distributor ever splits one day across rows.
		sched[day] = row.Intervals()
	}
	return sched, nil
}

func (in *Ingestor) ingest(table Table, path string) (model.ScheduleMap, error) {
	sched, err := in.Parse(table)
	if err != nil {
		var perr *ScheduleParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		appLog.Error("schedule ingestion failed", err, "file", path)
		return nil, err
	}

	if err := in.store.Save(sched); err != nil {
		appLog.Error("schedule store write failed", err)
		return nil, fmt.Errorf("save schedule: %w", err)
	}

	appLog.Info("schedule saved", "days", len(sched), "rows", len(table.Rows))
	return sched, nil
}
