package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxRows caps the number of data rows accepted from one import file.
const DefaultMaxRows = 100

var (
	ErrMissingNameColumn = errors.New("import file must have a name column")
	ErrTooManyRows       = errors.New("too many rows")
	ErrEmptyFile         = errors.New("import file is empty")
)

// Row is one data row of an import file. Number is 1-based and excludes the header.
type Row struct {
	Number         int
	Name           string
	Brand          string
	Features       []string
	TargetAudience string
	Price          string
	Category       string
}

var knownColumns = map[string]bool{
	"name": true, "brand": true, "features": true,
	"target_audience": true, "price": true, "category": true,
}

// ParseCSV reads a header row followed by data rows. Blank lines are skipped.
// More than maxRows data rows rejects the whole file; maxRows <= 0 means DefaultMaxRows.
func ParseCSV(r io.Reader, maxRows int) ([]Row, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.ToLower(strings.TrimSpace(h))
		if knownColumns[h] {
			if _, dup := cols[h]; !dup {
				cols[h] = i
			}
		}
	}
	if _, ok := cols["name"]; !ok {
		return nil, ErrMissingNameColumn
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records)+1, err)
		}
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
		if len(records) > maxRows {
			return nil, fmt.Errorf("%w: maximum %d items", ErrTooManyRows, maxRows)
		}
	}

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		field := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}
		rows = append(rows, Row{
			Number:         i + 1,
			Name:           field("name"),
			Brand:          field("brand"),
			Features:       splitFeatures(field("features")),
			TargetAudience: field("target_audience"),
			Price:          field("price"),
			Category:       field("category"),
		})
	}
	return rows, nil
}

// splitFeatures splits on ASCII and full-width commas and drops blanks.
func splitFeatures(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
