package lattice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Memory is a lattice whose field values live in memory. It does not model physics:
// a recompute cycle simply tells listeners that written values are settled. It is
// what the CLI runs against when no physics engine is linked, and what tests bind to.
type Memory struct {
	*Element

	name     string
	symmetry int

	mu        sync.RWMutex
	elements  []*Element
	callbacks []func()

	dirty  atomic.Bool
	cycles atomic.Int64
}

// Element is one item of a Memory lattice.
type Element struct {
	lat    *Memory
	index  int
	typ    string
	fields map[string]*field
}

type field struct {
	readback string
	setpoint string
	value    record.Value
}

// New creates an empty lattice.
func New(name string) *Memory {
	m := &Memory{name: name}
	m.Element = &Element{lat: m, typ: "LATTICE", fields: make(map[string]*field)}
	return m
}

// Name is the ring mode the lattice was described for.
func (m *Memory) Name() string { return m.name }

// Symmetry is the number of cells in the ring.
func (m *Memory) Symmetry() int { return m.symmetry }

// AddElement appends an element and returns it for field setup.
func (m *Memory) AddElement(typ string) *Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &Element{lat: m, index: len(m.elements) + 1, typ: typ, fields: make(map[string]*field)}
	m.elements = append(m.elements, e)
	return e
}

// Elements implements Lattice.
func (m *Memory) Elements() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Item, len(m.elements))
	for i, e := range m.elements {
		items[i] = e
	}
	return items
}

// OnRecompute implements Lattice.
func (m *Memory) OnRecompute(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Dirty reports whether values were written since the last recompute.
func (m *Memory) Dirty() bool { return m.dirty.Load() }

// Cycles counts completed recomputes.
func (m *Memory) Cycles() int64 { return m.cycles.Load() }

// Recompute completes one update cycle and notifies listeners.
func (m *Memory) Recompute() {
	m.dirty.Store(false)
	m.mu.RLock()
	callbacks := slices.Clone(m.callbacks)
	m.mu.RUnlock()
	m.cycles.Add(1)
	for _, fn := range callbacks {
		fn()
	}
}

// Run recomputes every interval while values are dirty, until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.dirty.Load() {
				logrus.Debugf("Recomputing lattice %s", m.name)
				m.Recompute()
			}
		}
	}
}

// AddField defines a simulated field. Either record name may be empty.
func (e *Element) AddField(name, readback, setpoint string, v record.Value) *Element {
	e.lat.mu.Lock()
	defer e.lat.mu.Unlock()
	e.fields[name] = &field{readback: readback, setpoint: setpoint, value: v}
	return e
}

// RemoveField drops a field, as when a simulator stops providing it.
func (e *Element) RemoveField(name string) {
	e.lat.mu.Lock()
	defer e.lat.mu.Unlock()
	delete(e.fields, name)
}

func (e *Element) Index() int   { return e.index }
func (e *Element) Type() string { return e.typ }

func (e *Element) String() string {
	if e.index == 0 {
		return "lattice"
	}
	return fmt.Sprintf("%s element %d", e.typ, e.index)
}

// Fields returns field names sorted.
func (e *Element) Fields() []string {
	e.lat.mu.RLock()
	defer e.lat.mu.RUnlock()
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Element) PVName(name string, h Handle) (string, bool) {
	e.lat.mu.RLock()
	defer e.lat.mu.RUnlock()
	f, ok := e.fields[name]
	if !ok {
		return "", false
	}
	pv := f.readback
	if h == Setpoint {
		pv = f.setpoint
	}
	return pv, pv != ""
}

func (e *Element) Value(name string) (record.Value, error) {
	e.lat.mu.RLock()
	defer e.lat.mu.RUnlock()
	f, ok := e.fields[name]
	if !ok {
		return record.Value{}, &MissingFieldError{Item: e.String(), Field: name}
	}
	return f.value, nil
}

func (e *Element) SetValue(name string, v record.Value) error {
	e.lat.mu.Lock()
	f, ok := e.fields[name]
	if ok {
		f.value = v
	}
	e.lat.mu.Unlock()
	if !ok {
		return &MissingFieldError{Item: e.String(), Field: name}
	}
	e.lat.dirty.Store(true)
	return nil
}

// Description is the YAML form of a Memory lattice.
type Description struct {
	Name     string               `yaml:"name"`
	Symmetry int                  `yaml:"symmetry"`
	Fields   map[string]FieldDesc `yaml:"fields"`
	Elements []ElementDesc        `yaml:"elements"`
}

// ElementDesc describes one element.
type ElementDesc struct {
	Type   string               `yaml:"type"`
	Fields map[string]FieldDesc `yaml:"fields"`
}

// FieldDesc describes one simulated field.
type FieldDesc struct {
	Readback string `yaml:"rb"`
	Setpoint string `yaml:"sp"`
	Value    Number `yaml:"value"`
}

// Number decodes a YAML scalar or sequence of numbers into a record.Value.
type Number struct {
	record.Value
}

func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		n.Value = record.Scalar(f)
	case yaml.SequenceNode:
		var fs []float64
		if err := node.Decode(&fs); err != nil {
			return err
		}
		n.Value = record.Array(fs...)
	default:
		return fmt.Errorf("line %d: field value must be a number or a list of numbers", node.Line)
	}
	return nil
}

// Parse reads a Description with strict field checking: unknown keys are errors.
func Parse(r io.Reader) (*Memory, error) {
	var desc Description
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&desc); err != nil {
		return nil, fmt.Errorf("parsing lattice description: %w", err)
	}
	return FromDescription(desc), nil
}

// Load parses the lattice description at path.
func Load(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lattice description: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// FromDescription builds a lattice from an already decoded description.
func FromDescription(desc Description) *Memory {
	m := New(desc.Name)
	m.symmetry = desc.Symmetry
	for name, f := range desc.Fields {
		m.AddField(name, f.Readback, f.Setpoint, f.Value.Value)
	}
	for _, ed := range desc.Elements {
		e := m.AddElement(ed.Type)
		for name, f := range ed.Fields {
			e.AddField(name, f.Readback, f.Setpoint, f.Value.Value)
		}
	}
	return m
}
