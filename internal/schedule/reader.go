package schedule

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files that are neither a workbook nor CSV.
var ErrUnsupportedFormat = errors.New("unsupported schedule file format")

// Supported reports whether path has an extension ReadFile understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls", ".csv":
		return true
	default:
		return false
	}
}

// ReadFile loads the first sheet of an .xlsx/.xlsm/.xls workbook or a CSV
// file.
func ReadFile(path string) (Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(path)
	case ".xls":
		return readLegacyWorkbook(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return Table{}, err
		}
		defer f.Close()
		return ReadCSV(f)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

func readWorkbook(path string) (Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return Table{}, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Table{}, err
	}
	return NewTable(rows), nil
}

// readLegacyWorkbook loads the first sheet of a BIFF8 (.xls) workbook.
func readLegacyWorkbook(path string) (tbl Table, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	// The BIFF decoder indexes record data without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			tbl, err = Table{}, fmt.Errorf("malformed xls workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return Table{}, err
	}
	if wb == nil || wb.NumSheets() == 0 {
		return Table{}, errors.New("workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil || sheet.MaxRow == 0 {
		// Nothing below the header.
		return Table{}, nil
	}
	// Capped at the first sheet's row count, ReadAllCells never reaches
	// the later sheets.
	return NewTable(wb.ReadAllCells(int(sheet.MaxRow) + 1)), nil
}

// ReadCSV parses a CSV export. The delimiter is sniffed from the first line
// (';' is common in European exports), and a UTF-8 BOM is dropped.
func ReadCSV(r io.Reader) (Table, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	comma := ','
	first, _ := br.Peek(br.Buffered())
	line := string(first)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		comma = ';'
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return Table{}, err
	}
	return NewTable(rows), nil
}
