package pv

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// OffsetChainNode emulates the receiving end of tune feedback. It watches a delta
// record, stores each delta in its own record and forces its target setpoint to
// process; the target adds the stored delta to its simulator write.
type OffsetChainNode struct {
	base
	// binding is the simulated field the record was created for. The chain never
	// writes it; Items and Field report it.
	binding
	monitoring

	target *SourceReadWriteNode
}

// TransferRecord builds an OffsetChainNode that takes over prev's record and
// simulator binding. prev must be discarded by the caller: any later use of it
// panics. The node watches delta and attaches itself as target's offset.
//
// It runs once per chain during graph construction.
func TransferRecord(prev *SourceReadWriteNode, mon Monitor, delta string, target *SourceReadWriteNode) (*OffsetChainNode, error) {
	if prev == target {
		return nil, fmt.Errorf("pv %s: offset chain cannot take over its own target", prev.Name())
	}
	rec := prev.Record()
	n := &OffsetChainNode{
		base:       newBase(rec),
		binding:    binding{items: prev.Items(), field: prev.Field()},
		monitoring: monitoring{owner: rec.Name(), server: mon},
		target:     target,
	}
	if err := n.watch([]string{delta}, n.notify); err != nil {
		return nil, err
	}
	// The former writer must no longer push client writes to the simulator.
	rec.OnUpdate(nil)
	prev.rec = nil
	target.AttachOffset(n)
	return n, nil
}

func (n *OffsetChainNode) Variant() Variant { return VariantOffsetChain }

// Target returns the setpoint this node offsets.
func (n *OffsetChainNode) Target() *SourceReadWriteNode { return n.target }

// Offset returns the stored delta.
func (n *OffsetChainNode) Offset() record.Value { return n.Get() }

func (n *OffsetChainNode) Dependencies() []string { return n.watchedNames() }

// notify stores the delta before the target processes, so the target always reads the
// delta it was triggered by.
func (n *OffsetChainNode) notify(_ int, v record.Value) {
	logrus.Debugf("Offset chain %s stored delta %v, processing %s", n.name, v, n.target.Name())
	nodeUpdates.WithLabelValues("offset").Inc()
	n.Set(v)
	n.target.Process()
}
