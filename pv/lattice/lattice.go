// Package lattice defines the simulator collaborator the record graph is bound to,
// plus Memory, an in-process lattice described in YAML.
//
// A Lattice is itself an Item (index 0) carrying machine-wide fields such as tunes and
// emittances; its Elements are the physical items (magnets, BPMs, cavities) with
// 1-based indices. Each field can name a readback record and, when writable, a
// setpoint record.
//
// The simulator notifies interested parties through OnRecompute callbacks, invoked
// once per physics update cycle. That callback is the only trigger for batch pulling
// readback values.
package lattice

import (
	"fmt"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Handle selects which record name of a field is wanted.
type Handle int

const (
	Readback Handle = iota
	Setpoint
)

func (h Handle) String() string {
	if h == Setpoint {
		return "SP"
	}
	return "RB"
}

// Item is one simulated physical item, or the lattice itself.
type Item interface {
	// Index is 0 for the lattice and 1-based for elements.
	Index() int
	Type() string
	// Fields lists simulated field names in a stable order.
	Fields() []string
	// PVName returns the record name for field, if the item has one for h.
	PVName(field string, h Handle) (string, bool)
	// Value reads field in engineering units.
	Value(field string) (record.Value, error)
	// SetValue writes field in engineering units.
	SetValue(field string, v record.Value) error
}

// Lattice is the simulator as seen by the record graph.
type Lattice interface {
	Item
	Elements() []Item
	// OnRecompute registers fn to run after every physics recompute.
	OnRecompute(fn func())
}

// MissingFieldError is returned when an item lacks a requested field.
type MissingFieldError struct {
	Item  string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s has no simulated field %q", e.Item, e.Field)
}
