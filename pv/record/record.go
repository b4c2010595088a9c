package record

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Bounds carries the EPICS display and drive metadata of a record.
type Bounds struct {
	Lower     float64
	Upper     float64
	Precision int
	DriveLow  float64
	DriveHigh float64
}

// HasDrive reports whether drive limits were configured.
func (b Bounds) HasDrive() bool {
	return b.DriveHigh > b.DriveLow
}

// Clamp limits every element of v to the drive range.
func (b Bounds) Clamp(v Value) Value {
	if !b.HasDrive() {
		return v
	}
	clamp := func(f float64) float64 { return min(max(f, b.DriveLow), b.DriveHigh) }
	if !v.isArray {
		return Scalar(clamp(v.scalar))
	}
	return v.mapArray(clamp)
}

// Spec describes a record to create.
type Spec struct {
	Name    string
	Kind    Kind
	Bounds  *Bounds // nil when no limits are known
	Scan    ScanPolicy
	Initial Value
	// AlwaysUpdate runs the on-update handler on client puts even when the value did
	// not change.
	AlwaysUpdate bool
	// States labels mbbi values by index.
	States []string
}

// Record is a named storage cell owned by the serving runtime. Sets are serialized
// per record; the last write is what subsequent reads observe.
type Record struct {
	spec   Spec
	server *Server

	mu       sync.RWMutex
	value    Value
	onUpdate func(Value)

	// procMu serializes processing (handler runs) of this record.
	procMu sync.Mutex
	// postMu pairs each store with its post, so monitors see stores in order.
	postMu sync.Mutex
}

// Name returns the record name.
func (r *Record) Name() string { return r.spec.Name }

// Kind returns the record kind.
func (r *Record) Kind() Kind { return r.spec.Kind }

// Spec returns the creation metadata.
func (r *Record) Spec() Spec { return r.spec }

// Get returns the stored value.
func (r *Record) Get() Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Set stores v and, for on-change records, posts it to monitors. Set never runs the
// on-update handler and never fans out to nodes directly.
func (r *Record) Set(v Value) {
	r.postMu.Lock()
	defer r.postMu.Unlock()
	r.store(v)
	if r.spec.Scan.Mode == ScanOnChange {
		r.server.post(r, v)
	}
}

// repost delivers the current value to monitors.
func (r *Record) repost() {
	r.postMu.Lock()
	defer r.postMu.Unlock()
	r.server.post(r, r.Get())
}

func (r *Record) store(v Value) Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.value
	r.value = v
	return old
}

// OnUpdate installs the handler run when the record is processed. A nil fn removes it.
func (r *Record) OnUpdate(fn func(Value)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

func (r *Record) handler() func(Value) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onUpdate
}

// Process runs the on-update handler with the current value and posts it, the same as
// writing 1 to the record's PROC field.
func (r *Record) Process() {
	r.procMu.Lock()
	v := r.Get()
	if fn := r.handler(); fn != nil {
		fn(v)
	}
	r.procMu.Unlock()
	r.repost()
}

// put is a client write: clamp, store, run the handler, post.
func (r *Record) put(v Value) {
	if r.spec.Bounds != nil && r.spec.Kind.IsOutput() {
		v = r.spec.Bounds.Clamp(v)
	}
	r.procMu.Lock()
	r.postMu.Lock()
	old := r.store(v)
	r.postMu.Unlock()
	if fn := r.handler(); fn != nil && (r.spec.AlwaysUpdate || !old.Equal(v)) {
		logrus.Debugf("Read value %v on pv %s", v, r.spec.Name)
		fn(v)
	}
	r.procMu.Unlock()
	r.repost()
}
