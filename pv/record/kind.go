package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the record type served to clients.
type Kind string

const (
	KindAI          Kind = "ai"
	KindAO          Kind = "ao"
	KindWaveformIn  Kind = "wfmi"
	KindWaveformOut Kind = "wfmo"
	KindMBBI        Kind = "mbbi"
)

// validKinds maps accepted spellings to kinds. "wfm" is the spelling the table
// generators emit for input waveforms.
var validKinds = map[string]Kind{
	"ai":   KindAI,
	"ao":   KindAO,
	"wfmi": KindWaveformIn,
	"wfm":  KindWaveformIn,
	"wfmo": KindWaveformOut,
	"mbbi": KindMBBI,
}

// ParseKind resolves a configuration spelling to a Kind.
func ParseKind(s string) (Kind, error) {
	k, ok := validKinds[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("record kind %q not supported; use one of ai, ao, wfm, wfmi, wfmo, mbbi", s)
	}
	return k, nil
}

// IsOutput reports whether clients write to records of this kind.
func (k Kind) IsOutput() bool {
	return k == KindAO || k == KindWaveformOut
}

// IsWaveform reports whether the kind holds arrays.
func (k Kind) IsWaveform() bool {
	return k == KindWaveformIn || k == KindWaveformOut
}

// ScanMode decides when a record is pushed to monitors.
type ScanMode int

const (
	// ScanOnChange pushes on every set ("I/O Intr").
	ScanOnChange ScanMode = iota
	// ScanPeriodic pushes the current value every Interval.
	ScanPeriodic
	// ScanPassive pushes only when the record is processed (client put or PROC).
	ScanPassive
)

// ScanPolicy is a record's scan mode plus the period for ScanPeriodic.
type ScanPolicy struct {
	Mode     ScanMode
	Interval time.Duration
}

var (
	OnChange = ScanPolicy{Mode: ScanOnChange}
	Passive  = ScanPolicy{Mode: ScanPassive}
)

// Periodic returns a periodic scan policy.
func Periodic(d time.Duration) ScanPolicy {
	return ScanPolicy{Mode: ScanPeriodic, Interval: d}
}

// ParseScan accepts "I/O Intr", "Passive" and "<n> second" forms. An empty string is
// on-change.
func ParseScan(s string) (ScanPolicy, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "i/o intr":
		return OnChange, nil
	case "passive":
		return Passive, nil
	}
	num, unit, ok := strings.Cut(s, " ")
	if ok && strings.HasPrefix(strings.ToLower(unit), "second") {
		secs, err := strconv.ParseFloat(num, 64)
		if err == nil && secs > 0 {
			return Periodic(time.Duration(secs * float64(time.Second))), nil
		}
	}
	return ScanPolicy{}, fmt.Errorf("scan policy %q not supported", s)
}

func (p ScanPolicy) String() string {
	switch p.Mode {
	case ScanOnChange:
		return "I/O Intr"
	case ScanPassive:
		return "Passive"
	default:
		return strconv.FormatFloat(p.Interval.Seconds(), 'g', -1, 64) + " second"
	}
}
