package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// TableStats summarises one input table for the dataset overview.
type TableStats struct {
	Name    string         `json:"name"`
	File    string         `json:"file"`
	Rows    int            `json:"rows"`
	Columns []string       `json:"columns"`
	Missing map[string]int `json:"missing,omitempty"`
}

// merge adds the rows and missing counts of another shard of the same table.
func (s *TableStats) merge(other *TableStats) {
	s.Rows += other.Rows
	if len(s.Columns) == 0 {
		s.Columns = other.Columns
	}
	for col, n := range other.Missing {
		if s.Missing == nil {
			s.Missing = make(map[string]int)
		}
		s.Missing[col] += n
	}
}

// row is a single CSV record addressed by column name.
type row struct {
	t      *table
	record []string
	line   int
}

type table struct {
	file    string
	reader  *csv.Reader
	columns map[string]int
	stats   *TableStats
}

func newTable(name, file string, r io.Reader, required []string) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s has no header", ErrMissingColumn, file)
		}
		return nil, fmt.Errorf("read header of %s: %w", file, err)
	}

	columns := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		header[i] = col
		columns[col] = i
	}
	for _, col := range required {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("%w: file=%s column=%s", ErrMissingColumn, file, col)
		}
	}

	return &table{
		file:    file,
		reader:  reader,
		columns: columns,
		stats: &TableStats{
			Name:    name,
			File:    file,
			Columns: header,
			Missing: make(map[string]int),
		},
	}, nil
}

// each calls fn for every data row. Line numbers are 1-based and count the
// header as line 1.
func (t *table) each(fn func(r row) error) error {
	for {
		record, err := t.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", t.file, err)
		}
		line, _ := t.reader.FieldPos(0)
		t.stats.Rows++
		for col, idx := range t.columns {
			if idx >= len(record) || strings.TrimSpace(record[idx]) == "" {
				t.stats.Missing[col]++
			}
		}
		if err := fn(row{t: t, record: record, line: line}); err != nil {
			return err
		}
	}
}

func (r row) str(col string) string {
	idx, ok := r.t.columns[col]
	if !ok || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}

// date parses a date column; unparseable or empty values become the zero
// time and count as missing.
func (r row) date(col string) time.Time {
	v := r.str(col)
	if v == "" {
		return time.Time{}
	}
	t, ok := parseDate(v)
	if !ok {
		r.t.stats.Missing[col]++
		return time.Time{}
	}
	return t
}

// optFloat parses an optional numeric column; bad values become NaN.
func (r row) optFloat(col string) float64 {
	v := r.str(col)
	if v == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.t.stats.Missing[col]++
		return math.NaN()
	}
	return f
}

// float parses a required numeric column.
func (r row) float(col string) (float64, error) {
	v := r.str(col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, r.malformed(col, v)
	}
	return f, nil
}

func (r row) int(col string) (int, error) {
	v := r.str(col)
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != math.Trunc(f) {
			return 0, r.malformed(col, v)
		}
		n = int(f)
	}
	return n, nil
}

func (r row) malformed(col, value string) error {
	return fmt.Errorf("%w: file=%s line=%d column=%s value=%q", ErrMalformedValue, r.t.file, r.line, col, value)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
}

func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extras collects non-empty values of columns outside known.
func (r row) extras(known map[string]bool) map[string]string {
	var out map[string]string
	for col, idx := range r.t.columns {
		if known[col] || idx >= len(r.record) {
			continue
		}
		v := strings.TrimSpace(r.record[idx])
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[col] = v
	}
	return out
}
