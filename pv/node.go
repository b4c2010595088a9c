package pv

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Variant identifies a node type.
type Variant int

const (
	VariantBase Variant = iota
	VariantSourceRead
	VariantSourceReadWrite
	VariantSubscription
	VariantOffsetChain
)

var variantNames = map[Variant]string{
	VariantBase:            "base",
	VariantSourceRead:      "source-read",
	VariantSourceReadWrite: "source-read-write",
	VariantSubscription:    "subscription",
	VariantOffsetChain:     "offset-chain",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Node owns one record. The set of implementations is closed: *BaseNode,
// *SourceReadNode, *SourceReadWriteNode, *SubscriptionNode and *OffsetChainNode.
type Node interface {
	Name() string
	Variant() Variant
	Get() record.Value
	// Set stores v in the node's record. It never runs handlers or notifies watchers
	// directly; monitors of on-change records are posted by the record server.
	Set(v record.Value)
	Record() *record.Record
	// Dependencies lists the record names the node reads from, in watch order.
	Dependencies() []string

	core() *base
}

// base is embedded by every variant.
type base struct {
	name string
	rec  *record.Record
}

func newBase(rec *record.Record) base {
	return base{name: rec.Name(), rec: rec}
}

func (b *base) Name() string { return b.name }

// Record returns the owned record. Using a node whose record was transferred is a
// construction bug and panics.
func (b *base) Record() *record.Record {
	if b.rec == nil {
		panic(fmt.Sprintf("pv: node %s used after its record was transferred", b.name))
	}
	return b.rec
}

func (b *base) Get() record.Value { return b.Record().Get() }

func (b *base) Set(v record.Value) {
	logrus.Debugf("Setting %s to %v", b.name, v)
	b.Record().Set(v)
}

func (b *base) Dependencies() []string { return nil }

func (b *base) core() *base { return b }

// BaseNode is a plain record holder, such as a status record clients poll.
type BaseNode struct {
	base
}

// NewBaseNode wraps rec.
func NewBaseNode(rec *record.Record) *BaseNode {
	return &BaseNode{base: newBase(rec)}
}

func (n *BaseNode) Variant() Variant { return VariantBase }
