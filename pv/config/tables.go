package config

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Limit is one row of the limits table.
type Limit struct {
	PV     string
	Bounds record.Bounds
	Scan   record.ScanPolicy
	// HasScan is false when the row leaves scan empty and the record keeps its default.
	HasScan bool
}

// RecordRow is one row of a feedback or bba table.
type RecordRow struct {
	// Index is 1-based into the lattice elements; 0 is the lattice itself.
	Index int
	Field string
	PV    string
	Value record.Value
	Kind  record.Kind
}

// MirrorRow is one row of the mirrored table.
type MirrorRow struct {
	OutputKind record.Kind
	MirrorType string
	Inputs     []string
	Output     string
	Value      record.Value
	Scan       record.ScanPolicy
}

// OffsetRow is one row of the tune feedback table. Offset names an existing setpoint
// whose record is taken over by the chain that watches Delta and reprocesses Setpoint.
type OffsetRow struct {
	Setpoint string
	Offset   string
	Delta    string
}

// skip decides whether err drops the row (SkipInvalid) or fails the table.
func skip(mode Mode, table string, err error) bool {
	var invalid *InvalidValueError
	if mode == SkipInvalid && errors.As(err, &invalid) {
		logrus.Warnf("Skipping %s row: %v", table, err)
		return true
	}
	return false
}

// ReadLimits reads a limits table keyed by record name.
func ReadLimits(r io.Reader) (map[string]Limit, error) {
	t, err := newTable("limits", r, "pv", "upper", "lower", "precision", "drive_high", "drive_low", "scan")
	if err != nil {
		return nil, err
	}
	limits := make(map[string]Limit)
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return limits, nil
		}
		l := Limit{PV: t.get("pv")}
		if l.Bounds.Upper, err = t.floatCol("upper"); err != nil {
			return nil, err
		}
		if l.Bounds.Lower, err = t.floatCol("lower"); err != nil {
			return nil, err
		}
		if l.Bounds.Precision, err = t.intCol("precision"); err != nil {
			return nil, err
		}
		if l.Bounds.DriveHigh, err = t.floatCol("drive_high"); err != nil {
			return nil, err
		}
		if l.Bounds.DriveLow, err = t.floatCol("drive_low"); err != nil {
			return nil, err
		}
		if scan := t.get("scan"); scan != "" {
			if l.Scan, err = record.ParseScan(scan); err != nil {
				return nil, t.errorf("%v", err)
			}
			l.HasScan = true
		}
		if _, dup := limits[l.PV]; dup {
			logrus.Warnf("limits line %d: %s listed twice, keeping the last row", t.line, l.PV)
		}
		limits[l.PV] = l
	}
}

// ReadRecords reads a feedback or bba table.
func ReadRecords(r io.Reader, mode Mode) ([]RecordRow, error) {
	t, err := newTable("records", r, "index", "field", "pv", "value", "record_type")
	if err != nil {
		return nil, err
	}
	var rows []RecordRow
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		row := RecordRow{Field: t.get("field"), PV: t.get("pv")}
		if row.PV == "" {
			return nil, t.errorf("pv must not be empty")
		}
		if row.Kind, err = record.ParseKind(t.get("record_type")); err != nil {
			return nil, t.errorf("%v", err)
		}
		if row.Index, err = t.intCol("index"); err != nil {
			if skip(mode, "records", err) {
				continue
			}
			return nil, err
		}
		if row.Value, err = t.value(string(row.Kind), "value"); err != nil {
			if skip(mode, "records", err) {
				continue
			}
			return nil, err
		}
		rows = append(rows, row)
	}
}

// ReadMirrors reads the mirrored table. Mirror types are validated by the graph builder.
func ReadMirrors(r io.Reader, mode Mode) ([]MirrorRow, error) {
	t, err := newTable("mirrored", r, "output_type", "mirror_type", "in_pv", "out_pv", "value", "scan")
	if err != nil {
		return nil, err
	}
	var rows []MirrorRow
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		row := MirrorRow{
			MirrorType: t.get("mirror_type"),
			Inputs:     SplitNames(t.get("in_pv")),
			Output:     t.get("out_pv"),
		}
		if row.Output == "" {
			return nil, t.errorf("out_pv must not be empty")
		}
		if row.OutputKind, err = record.ParseKind(t.get("output_type")); err != nil {
			return nil, t.errorf("%v", err)
		}
		if row.Scan, err = record.ParseScan(t.get("scan")); err != nil {
			return nil, t.errorf("%v", err)
		}
		if row.Value, err = t.value(string(row.OutputKind), "value"); err != nil {
			if skip(mode, "mirrored", err) {
				continue
			}
			return nil, err
		}
		rows = append(rows, row)
	}
}

// ReadOffsets reads the tune feedback table.
func ReadOffsets(r io.Reader) ([]OffsetRow, error) {
	t, err := newTable("tunefb", r, "set_pv", "offset_pv", "delta_pv")
	if err != nil {
		return nil, err
	}
	var rows []OffsetRow
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		row := OffsetRow{Setpoint: t.get("set_pv"), Offset: t.get("offset_pv"), Delta: t.get("delta_pv")}
		if row.Setpoint == "" || row.Offset == "" || row.Delta == "" {
			return nil, t.errorf("set_pv, offset_pv and delta_pv are all required")
		}
		rows = append(rows, row)
	}
}

// LoadLimits reads the limits table at path.
func LoadLimits(path string) (map[string]Limit, error) {
	var limits map[string]Limit
	err := open("limits", path, func(r io.Reader) (err error) {
		limits, err = ReadLimits(r)
		return err
	})
	return limits, err
}

// LoadRecords reads the feedback or bba table at path.
func LoadRecords(path string, mode Mode) ([]RecordRow, error) {
	var rows []RecordRow
	err := open("records", path, func(r io.Reader) (err error) {
		rows, err = ReadRecords(r, mode)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// LoadMirrors reads the mirrored table at path.
func LoadMirrors(path string, mode Mode) ([]MirrorRow, error) {
	var rows []MirrorRow
	err := open("mirrored", path, func(r io.Reader) (err error) {
		rows, err = ReadMirrors(r, mode)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// LoadOffsets reads the tune feedback table at path.
func LoadOffsets(path string) ([]OffsetRow, error) {
	var rows []OffsetRow
	err := open("tunefb", path, func(r io.Reader) (err error) {
		rows, err = ReadOffsets(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
