// Package server builds the record graph for a lattice and runs it.
//
// Build processes its inputs in dependency order: element fields, lattice fields,
// bba and feedback rows, mirror rows, then offset chains. A row may only reference
// records created by an earlier step. Monitoring starts once every node exists, so
// an offset chain is attached to its setpoint before the setpoint first processes.
package server

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv"
	"github.com/DiamondLightSource/virtac/pv/config"
	"github.com/DiamondLightSource/virtac/pv/lattice"
	"github.com/DiamondLightSource/virtac/pv/record"
)

// EmittanceStatusPV reports the emittance calculation state. It exists only when
// emittance is enabled.
const EmittanceStatusPV = "SR-DI-EMIT-01:STATUS"

// emittanceFields are skipped on the lattice when emittance is disabled.
var emittanceFields = map[string]bool{"emittance_x": true, "emittance_y": true}

// builder holds a graph under construction. Nothing it creates is reachable by
// callers until Build succeeds.
type builder struct {
	lat  lattice.Lattice
	opts Options
	v    *Virtac
}

// Build creates every node for lat and opts and starts monitoring. On error no graph
// is returned.
func Build(lat lattice.Lattice, opts Options) (*Virtac, error) {
	b := &builder{
		lat:  lat,
		opts: opts,
		v: &Virtac{
			id:      uuid.New(),
			lat:     lat,
			opts:    opts,
			records: record.NewServer(),
			nodes:   make(map[string]pv.Node),
			drainer: pv.NewDrainer(opts.DrainInterval),
		},
	}
	log := logrus.WithField("instance", b.v.id.String())
	steps := []struct {
		name string
		run  func() error
	}{
		{"element", b.createElementNodes},
		{"lattice", b.createLatticeNodes},
		{"bba", func() error { return b.createRecordNodes(opts.BBA) }},
		{"feedback", b.createFeedbackNodes},
		{"mirror", b.createMirrorNodes},
		{"offset chain", b.createOffsetChains},
	}
	for _, step := range steps {
		before := len(b.v.order)
		if err := step.run(); err != nil {
			return nil, fmt.Errorf("creating %s records: %w", step.name, err)
		}
		log.Debugf("Created %d %s records", len(b.v.order)-before, step.name)
	}
	if err := b.v.startMonitoring(); err != nil {
		return nil, err
	}
	lat.OnRecompute(b.v.onRecompute)
	log.Infof("Built %d records, %d pulled after each recompute", len(b.v.order), len(b.v.pullers))
	return b.v, nil
}

// add registers n under its name. The record server already rejected duplicate
// record names, so this only guards against the builder itself reusing a name.
func (b *builder) add(n pv.Node) error {
	if _, ok := b.v.nodes[n.Name()]; ok {
		return &record.DuplicateNameError{Name: n.Name()}
	}
	b.v.nodes[n.Name()] = n
	b.v.order = append(b.v.order, n.Name())
	return nil
}

// spec applies the limits table to a lattice-derived record.
func (b *builder) spec(name string, kind record.Kind, scan record.ScanPolicy, initial record.Value) record.Spec {
	s := record.Spec{Name: name, Kind: kind, Scan: scan, Initial: initial}
	if l, ok := b.opts.Limits[name]; ok {
		bounds := l.Bounds
		s.Bounds = &bounds
		if l.HasScan {
			s.Scan = l.Scan
		}
	}
	return s
}

func inKind(v record.Value) record.Kind {
	if v.IsArray() {
		return record.KindWaveformIn
	}
	return record.KindAI
}

func outKind(v record.Value) record.Kind {
	if v.IsArray() {
		return record.KindWaveformOut
	}
	return record.KindAO
}

// createElementNodes creates a readback for every simulated element field and, when
// the field has a setpoint, a writer paired with it. Readbacks without a setpoint are
// pulled after each recompute; paired readbacks follow their writer instead.
func (b *builder) createElementNodes() error {
	for _, item := range b.lat.Elements() {
		for _, field := range item.Fields() {
			rbName, ok := item.PVName(field, lattice.Readback)
			if !ok {
				continue
			}
			if existing, ok := b.v.nodes[rbName]; ok {
				b.shareBinding(existing, item, field)
				continue
			}
			value, err := item.Value(field)
			if err != nil {
				return err
			}
			rec, err := b.v.records.Create(b.spec(rbName, inKind(value), record.OnChange, value))
			if err != nil {
				return err
			}
			read := pv.NewSourceReadNode(rec, item, field)
			if err := b.add(read); err != nil {
				return err
			}

			spName, ok := item.PVName(field, lattice.Setpoint)
			if !ok {
				b.v.pullers = append(b.v.pullers, read)
				continue
			}
			spec := b.spec(spName, outKind(value), record.Passive, value)
			spec.AlwaysUpdate = true
			rec, err = b.v.records.Create(spec)
			if err != nil {
				return err
			}
			if err := b.add(pv.NewSourceReadWriteNode(rec, read, item, field)); err != nil {
				return err
			}
		}
	}
	return nil
}

// shareBinding binds another item to the nodes already created for the same field
// name, as for RF cavities driven by one master oscillator.
func (b *builder) shareBinding(existing pv.Node, item lattice.Item, field string) {
	read, ok := existing.(*pv.SourceReadNode)
	if !ok || read.Field() != field {
		logrus.Warnf("PV %s already exists for a different field, ignoring %s on %v", existing.Name(), field, item)
		return
	}
	read.AppendItem(item)
	spName, ok := item.PVName(field, lattice.Setpoint)
	if !ok {
		return
	}
	if write, ok := b.v.nodes[spName].(*pv.SourceReadWriteNode); ok && write.Field() == field {
		write.AppendItem(item)
		logrus.Debugf("Binding %v to shared setpoint %s", item, spName)
		return
	}
	logrus.Warnf("Setpoint %s of shared readback %s was not created for field %s", spName, read.Name(), field)
}

// createLatticeNodes creates readbacks for machine-wide fields such as tunes. They are
// always pulled.
func (b *builder) createLatticeNodes() error {
	for _, field := range b.lat.Fields() {
		if b.opts.DisableEmittance && emittanceFields[field] {
			continue
		}
		name, ok := b.lat.PVName(field, lattice.Readback)
		if !ok {
			continue
		}
		value, err := b.lat.Value(field)
		if err != nil {
			return err
		}
		rec, err := b.v.records.Create(b.spec(name, inKind(value), record.OnChange, value))
		if err != nil {
			return err
		}
		read := pv.NewSourceReadNode(rec, b.lat, field)
		if err := b.add(read); err != nil {
			return err
		}
		b.v.pullers = append(b.v.pullers, read)
	}
	return nil
}

// createRecordNodes creates bba or feedback records. They are bound to their item so
// the binding is visible, but are not pulled: clients and mirrors set them.
func (b *builder) createRecordNodes(rows []config.RecordRow) error {
	elements := b.lat.Elements()
	for _, row := range rows {
		var item lattice.Item = b.lat
		if row.Index != 0 {
			if row.Index < 0 || row.Index > len(elements) {
				return fmt.Errorf("%s: element index %d out of range 1..%d", row.PV, row.Index, len(elements))
			}
			item = elements[row.Index-1]
		}
		rec, err := b.v.records.Create(record.Spec{Name: row.PV, Kind: row.Kind, Initial: row.Value})
		if err != nil {
			return err
		}
		if err := b.add(pv.NewSourceReadNode(rec, item, row.Field)); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) createFeedbackNodes() error {
	if err := b.createRecordNodes(b.opts.Feedback); err != nil {
		return err
	}
	if b.opts.DisableEmittance {
		return nil
	}
	rec, err := b.v.records.Create(record.Spec{
		Name:    EmittanceStatusPV,
		Kind:    record.KindMBBI,
		Initial: record.Scalar(0),
		States:  []string{"Successful"},
	})
	if err != nil {
		return err
	}
	return b.add(pv.NewBaseNode(rec))
}

// createMirrorNodes creates subscription nodes. Every input must already exist.
func (b *builder) createMirrorNodes() error {
	for _, row := range b.opts.Mirrors {
		policy, err := pv.ParsePolicy(row.MirrorType, len(row.Inputs))
		if err != nil {
			return fmt.Errorf("%s: %w", row.Output, err)
		}
		sources := make([]pv.Node, len(row.Inputs))
		for i, in := range row.Inputs {
			src, ok := b.v.nodes[in]
			if !ok {
				return &UnresolvedReferenceError{Name: in, Referrer: row.Output}
			}
			sources[i] = src
		}
		rec, err := b.v.records.Create(record.Spec{
			Name:    row.Output,
			Kind:    row.OutputKind,
			Scan:    row.Scan,
			Initial: row.Value,
		})
		if err != nil {
			return err
		}
		n, err := pv.NewSubscriptionNode(rec, b.v.records, policy, sources)
		if err != nil {
			return err
		}
		if err := b.add(n); err != nil {
			return err
		}
		if policy == pv.Collate {
			b.v.drainer.Add(n)
		}
		logrus.Debugf("Mirroring %s into %s (%s)", strings.Join(row.Inputs, ", "), row.Output, policy)
	}
	return nil
}

// createOffsetChains replaces each row's offset setpoint with a chain that watches the
// delta and refreshes the row's setpoint.
func (b *builder) createOffsetChains() error {
	if b.opts.DisableTuneFeedback {
		return nil
	}
	for _, row := range b.opts.Offsets {
		set, err := b.writer(row.Setpoint, row.Offset)
		if err != nil {
			return err
		}
		prev, err := b.writer(row.Offset, row.Offset)
		if err != nil {
			return err
		}
		if _, ok := b.v.nodes[row.Delta]; !ok {
			return &UnresolvedReferenceError{Name: row.Delta, Referrer: row.Offset}
		}
		chain, err := pv.TransferRecord(prev, b.v.records, row.Delta, set)
		if err != nil {
			return err
		}
		// The chain keeps prev's name and position; prev is no longer reachable.
		b.v.nodes[row.Offset] = chain
	}
	return nil
}

func (b *builder) writer(name, referrer string) (*pv.SourceReadWriteNode, error) {
	n, ok := b.v.nodes[name]
	if !ok {
		return nil, &UnresolvedReferenceError{Name: name, Referrer: referrer}
	}
	w, ok := n.(*pv.SourceReadWriteNode)
	if !ok {
		return nil, fmt.Errorf("%s must be a simulated setpoint, got a %s node", name, n.Variant())
	}
	return w, nil
}
