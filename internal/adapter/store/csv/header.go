// Package csv reads the tabular run inputs (glacier inventory, calibration
// table, geodetic reference) and reads and writes the run outputs.
// Columns are always addressed by header name.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// header maps normalized column names to their positions.
type header map[string]int

func newHeader(record []string) header {
	h := make(header, len(record))
	for i, name := range record {
		key := normalizeName(name)
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}

// index returns the position of the first name present.
func (h header) index(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := h[normalizeName(n)]; ok {
			return i, true
		}
	}
	return -1, false
}

// require is like index but fails naming the primary column.
func (h header) require(names ...string) (int, error) {
	if i, ok := h.index(names...); ok {
		return i, nil
	}
	return -1, fmt.Errorf("missing required column %q (accepted: %v)", names[0], names)
}

// scale returns factor when column i is the one called name, else 1.
func (h header) scale(i int, name string, factor float64) float64 {
	if j, ok := h[normalizeName(name)]; ok && j == i {
		return factor
	}
	return 1
}

// reader wraps csv.Reader with header handling and line numbers.
type reader struct {
	r    *csv.Reader
	h    header
	line int
}

func newReader(r io.Reader) (*reader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	record, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV: no header")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	return &reader{r: cr, h: newHeader(record), line: 1}, nil
}

// next returns the next record, or io.EOF.
func (r *reader) next() ([]string, error) {
	record, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read CSV record: %w", err)
	}
	r.line++
	return record, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseFloat(record []string, i int, name string, line int) (float64, error) {
	s := field(record, i)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid %s %q: %w", line, name, s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("line %d: %s %q is not a finite number", line, name, s)
	}
	return v, nil
}

// formatFloat writes the shortest representation that parses back exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// normalizeRegion strips the float suffix some tools add to integer ids ("3.0").
func normalizeRegion(s string) string {
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(s, ".0")); err == nil {
			return strings.TrimSuffix(s, ".0")
		}
	}
	return s
}
