package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DiamondLightSource/virtac/server"
)

// RingMode names the files describing one ring mode, relative to its data directory.
type RingMode struct {
	Lattice  string `yaml:"lattice"`
	Limits   string `yaml:"limits"`
	BBA      string `yaml:"bba"`
	Feedback string `yaml:"feedback"`
	Mirrored string `yaml:"mirrored"`
	TuneFB   string `yaml:"tunefb"`
}

// Config represents the full defaults.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Version           string              `yaml:"version"`
	RingMode          string              `yaml:"ring_mode"`
	DrainRateHz       float64             `yaml:"drain_rate_hz"`
	RecomputeInterval time.Duration       `yaml:"recompute_interval"`
	RingModes         map[string]RingMode `yaml:"ring_modes"`
}

// standardRingMode is used for ring modes defaults.yaml does not list.
var standardRingMode = RingMode{
	Lattice:  "lattice.yaml",
	Limits:   "limits.csv",
	BBA:      "bba.csv",
	Feedback: "feedback.csv",
	Mirrored: "mirrored.csv",
	TuneFB:   "tunefb.csv",
}

// loadDefaultsConfig parses defaults.yaml into a Config struct.
// Uses strict field checking: typos must cause errors.
func loadDefaultsConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading defaults file: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing defaults YAML: %w", err)
	}
	if cfg.DrainRateHz < 0 {
		return Config{}, fmt.Errorf("drain_rate_hz must not be negative, got %v", cfg.DrainRateHz)
	}
	if cfg.RecomputeInterval < 0 {
		return Config{}, fmt.Errorf("recompute_interval must not be negative, got %v", cfg.RecomputeInterval)
	}
	return cfg, nil
}

// files resolves the lattice description and tables for ringMode under dataDir.
// Entries a ring mode leaves empty fall back to the standard file names.
func (c Config) files(dataDir, ringMode string) (string, server.Tables) {
	rm, ok := c.RingModes[ringMode]
	if !ok {
		rm = standardRingMode
	}
	dir := filepath.Join(dataDir, ringMode)
	path := func(name, fallback string) string {
		if name == "" {
			name = fallback
		}
		return filepath.Join(dir, name)
	}
	return path(rm.Lattice, standardRingMode.Lattice), server.Tables{
		Limits:   path(rm.Limits, standardRingMode.Limits),
		BBA:      path(rm.BBA, standardRingMode.BBA),
		Feedback: path(rm.Feedback, standardRingMode.Feedback),
		Mirrored: path(rm.Mirrored, standardRingMode.Mirrored),
		TuneFB:   path(rm.TuneFB, standardRingMode.TuneFB),
	}
}

// drainInterval converts a rate in Hz to a drain period. Zero keeps the default.
func drainInterval(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}
