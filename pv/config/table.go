// Package config reads the declarative CSV tables the record graph is built from.
//
// Every table is a header row followed by data rows. Columns are located by header
// name so column order in the files does not matter; extra columns are ignored.
//
// # Tables
//
//   - limits:   pv, upper, lower, precision, drive_high, drive_low, scan
//   - feedback and bba: index, field, pv, value, record_type
//   - mirrored: output_type, mirror_type, in_pv, out_pv, value, scan
//   - tunefb:   set_pv, offset_pv, delta_pv
//
// Values written as "[a b c]" parse to arrays, anything else parses as a float.
package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Mode chooses what happens to rows with malformed values.
type Mode int

const (
	// Strict fails the whole table on the first malformed value.
	Strict Mode = iota
	// SkipInvalid logs a warning and drops the row.
	SkipInvalid
)

// InvalidValueError reports a configuration value that cannot be parsed.
type InvalidValueError struct {
	Kind string // record kind or column the value was meant for
	Raw  string
	Line int
	Err  error
}

func (e *InvalidValueError) Error() string {
	msg := fmt.Sprintf("invalid value %q for %s", e.Raw, e.Kind)
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

// ParseValue parses an initial value. kind only labels errors.
func ParseValue(kind, raw string) (record.Value, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		fields := strings.Fields(s[1 : len(s)-1])
		fs := make([]float64, len(fields))
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return record.Value{}, &InvalidValueError{Kind: kind, Raw: raw, Err: err}
			}
			fs[i] = x
		}
		return record.Array(fs...), nil
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return record.Value{}, &InvalidValueError{Kind: kind, Raw: raw, Err: err}
	}
	return record.Scalar(x), nil
}

// SplitNames splits a comma or space joined list of record names.
func SplitNames(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// table walks a CSV stream by header name.
type table struct {
	name    string
	reader  *csv.Reader
	columns map[string]int
	row     []string
	line    int
}

func newTable(name string, r io.Reader, required ...string) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", name, err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(h)] = i
	}
	for _, col := range required {
		if _, ok := columns[col]; !ok {
			return nil, fmt.Errorf("%s table is missing column %q", name, col)
		}
	}
	return &table{name: name, reader: reader, columns: columns, line: 1}, nil
}

// next advances to the next non-blank row. It returns false at EOF.
func (t *table) next() (bool, error) {
	for {
		row, err := t.reader.Read()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading %s row: %w", t.name, err)
		}
		t.line, _ = t.reader.FieldPos(0)
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		t.row = row
		return true, nil
	}
}

// get returns the trimmed cell for col, or "" when the row is short.
func (t *table) get(col string) string {
	i := t.columns[col]
	if i >= len(t.row) {
		return ""
	}
	return strings.TrimSpace(t.row[i])
}

func (t *table) errorf(format string, args ...any) error {
	return fmt.Errorf("%s line %d: %s", t.name, t.line, fmt.Sprintf(format, args...))
}

// value parses col of the current row, stamping the line on errors.
func (t *table) value(kind, col string) (record.Value, error) {
	v, err := ParseValue(kind, t.get(col))
	var invalid *InvalidValueError
	if errors.As(err, &invalid) {
		invalid.Line = t.line
	}
	return v, err
}

func (t *table) floatCol(col string) (float64, error) {
	s := t.get(col)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &InvalidValueError{Kind: col, Raw: s, Line: t.line, Err: err}
	}
	return f, nil
}

func (t *table) intCol(col string) (int, error) {
	s := t.get(col)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &InvalidValueError{Kind: col, Raw: s, Line: t.line, Err: err}
	}
	return n, nil
}

// open opens path for one of the Load functions.
func open(name, path string, read func(io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s table: %w", name, err)
	}
	defer func() { _ = file.Close() }()
	return read(file)
}
