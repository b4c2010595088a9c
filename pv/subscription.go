package pv

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Policy decides how a SubscriptionNode turns notifications into a stored value.
type Policy int

const (
	// Basic stores the notified value unchanged.
	Basic Policy = iota
	// InvertArray stores the element-wise boolean inverse of its single source.
	InvertArray
	// InvertElements re-reads every source as a boolean and stores the inverted array.
	InvertElements
	// Summate re-reads every source and stores the sum.
	Summate
	// Collate marks the node pending; the drain task stores an array of all sources.
	Collate
)

var policyNames = map[Policy]string{
	Basic:          "basic",
	InvertArray:    "invert-array",
	InvertElements: "invert-elements",
	Summate:        "summate",
	Collate:        "collate",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a mirror table type to a policy, checking the source count the
// policy needs. "inverse" picks InvertArray for one source and InvertElements for more.
func ParsePolicy(mirrorType string, sources int) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(mirrorType)) {
	case "basic":
		if sources != 1 {
			return 0, fmt.Errorf("basic mirror type takes exactly one input PV, got %d", sources)
		}
		return Basic, nil
	case "inverse":
		if sources < 1 {
			return 0, fmt.Errorf("inverse mirror type takes at least one input PV")
		}
		if sources == 1 {
			return InvertArray, nil
		}
		return InvertElements, nil
	case "summate":
		if sources < 2 {
			return 0, fmt.Errorf("summate mirror type takes at least two input PVs, got %d", sources)
		}
		return Summate, nil
	case "collate":
		if sources < 1 {
			return 0, fmt.Errorf("collate mirror type takes at least one input PV")
		}
		return Collate, nil
	}
	return 0, fmt.Errorf("%s is not valid, please use one of: (basic, inverse, summate, collate)", mirrorType)
}

// SubscriptionNode mirrors one or more source records under a propagation policy.
type SubscriptionNode struct {
	base
	monitoring

	policy Policy
	// sources are read through their records, which outlive superseded nodes.
	sources []*record.Record

	// pending is set by collate notifications and cleared by Flush.
	pending atomic.Bool
	// evalMu covers every re-read of sources together with the store of its result.
	evalMu sync.Mutex
}

// NewSubscriptionNode creates a node that watches sources. Monitoring is not started;
// call EnableMonitoring once the graph is complete.
func NewSubscriptionNode(rec *record.Record, mon Monitor, policy Policy, sources []Node) (*SubscriptionNode, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("pv %s: %s node needs at least one source", rec.Name(), policy)
	}
	if policy == InvertArray && len(sources) != 1 {
		return nil, fmt.Errorf("pv %s: %s takes exactly one source, got %d", rec.Name(), policy, len(sources))
	}
	if policy == Collate && len(sources) > 1 {
		for _, src := range sources {
			if src.Get().IsArray() {
				return nil, fmt.Errorf("pv %s: collating several sources needs scalar sources, %s holds an array", rec.Name(), src.Name())
			}
		}
	}
	n := &SubscriptionNode{
		base:       newBase(rec),
		monitoring: monitoring{owner: rec.Name(), server: mon},
		policy:     policy,
		sources:    make([]*record.Record, len(sources)),
	}
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Name()
		n.sources[i] = src.Record()
	}
	if err := n.watch(names, n.notify); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *SubscriptionNode) Variant() Variant { return VariantSubscription }

// Policy returns the propagation policy.
func (n *SubscriptionNode) Policy() Policy { return n.policy }

func (n *SubscriptionNode) Dependencies() []string { return n.watchedNames() }

// notify is the single dispatch point for every source notification.
func (n *SubscriptionNode) notify(index int, v record.Value) {
	switch n.policy {
	case Basic:
		n.store(v)
	case InvertArray:
		n.store(invert(v))
	case InvertElements:
		n.evalMu.Lock()
		defer n.evalMu.Unlock()
		bs := make([]bool, len(n.sources))
		for i, src := range n.sources {
			bs[i] = !src.Get().Truth()
		}
		n.store(record.Bools(bs))
	case Summate:
		n.evalMu.Lock()
		defer n.evalMu.Unlock()
		n.store(n.sum())
	case Collate:
		collateNotifications.Inc()
		n.pending.Store(true)
	}
}

func (n *SubscriptionNode) store(v record.Value) {
	nodeUpdates.WithLabelValues(n.policy.String()).Inc()
	n.Set(v)
}

func (n *SubscriptionNode) sum() record.Value {
	total := record.Scalar(0)
	for _, src := range n.sources {
		total = total.Add(src.Get())
	}
	logrus.Debugf("Summed sources of %s: %v", n.name, total)
	return total
}

// Pending reports whether a collate node has notifications not yet drained.
func (n *SubscriptionNode) Pending() bool { return n.pending.Load() }

// Flush performs one collate drain if notifications are pending: it re-reads every
// source and stores the result once. A single source replaces the whole array. It
// reports whether a store happened.
func (n *SubscriptionNode) Flush() bool {
	if n.policy != Collate {
		return false
	}
	n.evalMu.Lock()
	defer n.evalMu.Unlock()
	if !n.pending.Swap(false) {
		return false
	}
	var v record.Value
	if len(n.sources) == 1 {
		v = n.sources[0].Get()
	} else {
		fs := make([]float64, len(n.sources))
		for i, src := range n.sources {
			cur := src.Get()
			if cur.IsArray() {
				logrus.Warnf("Collating %s: source %s now holds %d values, using the first", n.name, src.Name(), cur.Len())
			}
			fs[i] = cur.Float()
		}
		v = record.Array(fs...)
	}
	collateDrains.Inc()
	n.store(v)
	return true
}

// invert flips every element of v read as a boolean, keeping v's shape.
func invert(v record.Value) record.Value {
	if !v.IsArray() {
		if v.Truth() {
			return record.Scalar(0)
		}
		return record.Scalar(1)
	}
	fs := v.Floats()
	bs := make([]bool, len(fs))
	for i, f := range fs {
		bs[i] = f == 0
	}
	return record.Bools(bs)
}
