package schedule

import (
	"errors"
	"strings"

	"tariffd/internal/model"
)

// Column layout of the distributor's export:
//
//	0   row key, NT rows end with the marker suffix (e.g. "...|1")
//	1   (unused)
//	2   weekday name
//	3-12  up to five start/end pairs
const (
	colMarker    = 0
	colDay       = 2
	colFirstPair = 3
	MaxPairs     = 5
	minColumns   = colDay + 1
)

// ErrShortRow is returned by DecodeRow for rows without a weekday column.
var ErrShortRow = errors.New("row has fewer than 3 columns")

// Table is a sheet as read from disk: the first row is a header and is never
// interpreted as data.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable splits raw sheet rows into header and data rows.
func NewTable(raw [][]string) Table {
	if len(raw) == 0 {
		return Table{}
	}
	return Table{Header: raw[0], Rows: raw[1:]}
}

// Row is one decoded data row. Pairs holds up to MaxPairs slots; a nil slot
// is a pair that was empty or incomplete.
type Row struct {
	Marker string
	Day    string
	Pairs  [MaxPairs]*model.Pair
}

// DecodeRow reads a raw row. Pair scanning stops at the first pair whose end
// column is past the end of the row.
func DecodeRow(cells []string) (Row, error) {
	if len(cells) < minColumns {
		return Row{}, ErrShortRow
	}
	row := Row{
		Marker: strings.TrimSpace(cells[colMarker]),
		Day:    cells[colDay],
	}
	for i := 0; i < MaxPairs; i++ {
		startCol := colFirstPair + 2*i
		if startCol+1 >= len(cells) {
			break
		}
		start := strings.TrimSpace(cells[startCol])
		end := strings.TrimSpace(cells[startCol+1])
		if !present(start) || !present(end) {
			continue
		}
		row.Pairs[i] = &model.Pair{start, end}
	}
	return row, nil
}

// Intervals returns the filled pair slots in column order.
func (r Row) Intervals() []model.Pair {
	out := make([]model.Pair, 0, MaxPairs)
	for _, p := range r.Pairs {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// HasMarker reports whether the row key ends with suffix.
func (r Row) HasMarker(suffix string) bool {
	return strings.HasSuffix(r.Marker, suffix)
}

// present filters empty cells and the "nan" placeholder that spreadsheet
// exports use for blank time cells.
func present(s string) bool {
	return s != "" && !strings.EqualFold(s, "nan")
}
