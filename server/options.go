package server

import (
	"errors"
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/config"
)

// Options carries the declarative tables and simulation flags a graph is built from.
type Options struct {
	Limits   map[string]config.Limit
	BBA      []config.RecordRow
	Feedback []config.RecordRow
	Mirrors  []config.MirrorRow
	Offsets  []config.OffsetRow

	DisableEmittance    bool
	DisableChromaticity bool
	DisableRadiation    bool
	DisableTuneFeedback bool
	LinoptFunction      string

	// DrainInterval is the collate drain period; zero uses pv.DefaultDrainInterval.
	DrainInterval time.Duration
}

// Tables names the CSV files for one ring mode. Empty paths are skipped.
type Tables struct {
	Limits   string
	BBA      string
	Feedback string
	Mirrored string
	TuneFB   string
}

// LoadTables reads every named table into opts. A missing limits file only warns:
// records are then created without limits.
func (opts *Options) LoadTables(t Tables, mode config.Mode) error {
	if t.Limits != "" {
		limits, err := config.LoadLimits(t.Limits)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logrus.Warnf("No limits file found at %s, records are created without limits", t.Limits)
		case err != nil:
			return err
		default:
			opts.Limits = limits
		}
	}
	var err error
	if t.BBA != "" {
		if opts.BBA, err = config.LoadRecords(t.BBA, mode); err != nil {
			return err
		}
	}
	if t.Feedback != "" {
		if opts.Feedback, err = config.LoadRecords(t.Feedback, mode); err != nil {
			return err
		}
	}
	if t.Mirrored != "" {
		if opts.Mirrors, err = config.LoadMirrors(t.Mirrored, mode); err != nil {
			return err
		}
	}
	if t.TuneFB != "" && !opts.DisableTuneFeedback {
		if opts.Offsets, err = config.LoadOffsets(t.TuneFB); err != nil {
			return err
		}
	}
	return nil
}
