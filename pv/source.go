package pv

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/lattice"
	"github.com/DiamondLightSource/virtac/pv/record"
)

// Puller is a node that refreshes itself from the simulator.
type Puller interface {
	Node
	Pull() error
}

// binding is a simulated field shared by one or more items. Every item is written on
// a push; reads use the first.
type binding struct {
	items []lattice.Item
	field string
}

// AppendItem binds another item to the same field, as for RF cavities that share a
// single drive signal. It is only called during graph construction.
func (b *binding) AppendItem(item lattice.Item) {
	b.items = append(b.items, item)
}

// Items returns the bound items.
func (b *binding) Items() []lattice.Item { return slices.Clone(b.items) }

// Field returns the bound field name.
func (b *binding) Field() string { return b.field }

// SourceReadNode holds a value read from the simulator.
type SourceReadNode struct {
	base
	binding
}

// NewSourceReadNode binds rec to field on item.
func NewSourceReadNode(rec *record.Record, item lattice.Item, field string) *SourceReadNode {
	return &SourceReadNode{
		base:    newBase(rec),
		binding: binding{items: []lattice.Item{item}, field: field},
	}
}

func (n *SourceReadNode) Variant() Variant { return VariantSourceRead }

// Pull reads the bound field in engineering units and stores it.
func (n *SourceReadNode) Pull() error {
	logrus.Debugf("Pulling %s from the simulator", n.name)
	v, err := n.items[0].Value(n.field)
	if err != nil {
		simPullErrors.Inc()
		return fmt.Errorf("pv %s is missing an expected simulated field: %w", n.name, err)
	}
	simPulls.Inc()
	n.Set(v)
	return nil
}

// SourceReadWriteNode writes client setpoints into the simulator. Its record's
// on-update handler performs the write, so client puts and forced processing both
// reach the simulator.
//
// The paired readback is set directly with the written value instead of being pulled
// back: hardware ramping is not simulated.
type SourceReadWriteNode struct {
	base
	binding

	readback Node
	offset   Node
}

// NewSourceReadWriteNode binds rec to field on item and pairs it with readback.
func NewSourceReadWriteNode(rec *record.Record, readback Node, item lattice.Item, field string) *SourceReadWriteNode {
	n := &SourceReadWriteNode{
		base:     newBase(rec),
		binding:  binding{items: []lattice.Item{item}, field: field},
		readback: readback,
	}
	rec.OnUpdate(n.onUpdate)
	return n
}

func (n *SourceReadWriteNode) Variant() Variant { return VariantSourceReadWrite }

// Readback returns the paired readback node.
func (n *SourceReadWriteNode) Readback() Node { return n.readback }

// AttachOffset makes every later write add offset's current value before reaching
// the simulator.
func (n *SourceReadWriteNode) AttachOffset(offset Node) {
	logrus.Debugf("Attaching offset %s to %s", offset.Name(), n.name)
	n.offset = offset
}

// Offset returns the attached offset node, or nil.
func (n *SourceReadWriteNode) Offset() Node { return n.offset }

// Dependencies names the offset record when one is attached.
func (n *SourceReadWriteNode) Dependencies() []string {
	if n.offset == nil {
		return nil
	}
	return []string{n.offset.Name()}
}

// Process forces the record to process with its current value, as writing its PROC
// field would.
func (n *SourceReadWriteNode) Process() {
	n.Record().Process()
}

func (n *SourceReadWriteNode) onUpdate(v record.Value) {
	var err error
	if n.offset != nil {
		err = n.WriteOffset(v, n.offset.Get())
	} else {
		err = n.Write(v)
	}
	if err != nil {
		logrus.Errorf("Writing %s to the simulator: %v", n.name, err)
	}
}

// Write pushes v to every bound item, then stores v in this node and its readback.
func (n *SourceReadWriteNode) Write(v record.Value) error {
	return n.write(v, v)
}

// WriteOffset pushes v+offset to every bound item. The offset never appears in this
// node's record or in the readback, both of which receive v.
func (n *SourceReadWriteNode) WriteOffset(v, offset record.Value) error {
	out := v.Add(offset)
	logrus.Debugf("%s offset by %v, simulator value %v", n.name, offset, out)
	return n.write(v, out)
}

func (n *SourceReadWriteNode) write(visible, out record.Value) error {
	var errs []error
	for _, item := range n.items {
		logrus.Debugf("Writing %s=%v to %v for %s", n.field, out, item, n.name)
		if err := item.SetValue(n.field, out); err != nil {
			errs = append(errs, err)
			continue
		}
		simWrites.Inc()
	}
	n.Record().Set(visible)
	n.readback.Set(visible)
	return errors.Join(errs...)
}
