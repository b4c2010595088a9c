package server

import (
	"fmt"
	"io"
	"slices"

	"github.com/DiamondLightSource/virtac/pv"
)

// Stats summarises a built graph.
type Stats struct {
	ID           string
	Total        int
	ByVariant    map[pv.Variant]int
	Pulled       int
	CollateNodes int
	Monitoring   bool
	TuneFeedback bool
	Emittance    bool
	Chromaticity bool
	Radiation    bool
	Linopt       string
	Names        []string
	NameVariants []pv.Variant
}

// Stats collects the current statistics.
func (v *Virtac) Stats() Stats {
	s := Stats{
		ID:           v.id.String(),
		Total:        len(v.order),
		ByVariant:    make(map[pv.Variant]int),
		Pulled:       len(v.pullers),
		CollateNodes: v.drainer.Len(),
		Monitoring:   v.Monitoring(),
		TuneFeedback: !v.opts.DisableTuneFeedback,
		Emittance:    !v.opts.DisableEmittance,
		Chromaticity: !v.opts.DisableChromaticity,
		Radiation:    !v.opts.DisableRadiation,
		Linopt:       v.opts.LinoptFunction,
	}
	for _, n := range v.Nodes() {
		s.ByVariant[n.Variant()]++
		s.Names = append(s.Names, n.Name())
		s.NameVariants = append(s.NameVariants, n.Variant())
	}
	return s
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// Print writes the statistics to w. Verbosity 1 and above lists every record.
func (s Stats) Print(w io.Writer, verbosity int) {
	fmt.Fprintln(w, "=== Virtac Stats ===")
	fmt.Fprintf(w, "Instance             : %s\n", s.ID)
	fmt.Fprintf(w, "Tune feedback        : %s\n", enabled(s.TuneFeedback))
	if s.Linopt != "" {
		fmt.Fprintf(w, "Linear optics        : %s\n", s.Linopt)
	}
	fmt.Fprintf(w, "Emittance            : %s\n", enabled(s.Emittance))
	fmt.Fprintf(w, "Chromaticity         : %s\n", enabled(s.Chromaticity))
	fmt.Fprintf(w, "Radiation            : %s\n", enabled(s.Radiation))
	fmt.Fprintf(w, "PV monitoring        : %s\n", enabled(s.Monitoring))
	fmt.Fprintf(w, "Total PVs            : %d\n", s.Total)
	variants := make([]pv.Variant, 0, len(s.ByVariant))
	for variant := range s.ByVariant {
		variants = append(variants, variant)
	}
	slices.Sort(variants)
	for _, variant := range variants {
		fmt.Fprintf(w, "  %-18s : %d\n", variant, s.ByVariant[variant])
	}
	fmt.Fprintf(w, "Pulled after recompute: %d\n", s.Pulled)
	fmt.Fprintf(w, "Collate nodes        : %d\n", s.CollateNodes)
	if verbosity < 1 {
		return
	}
	fmt.Fprintln(w, "Available PVs:")
	for i, name := range s.Names {
		fmt.Fprintf(w, "  %s, %s\n", name, s.NameVariants[i])
	}
}
