package record

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NoIndex is passed to callbacks of subscriptions that are not part of a group.
const NoIndex = -1

// Server is the in-process record-serving runtime. It owns every record cell, delivers
// monitor updates, accepts client puts and drives periodic scans. Network transport is
// out of scope; a protocol front end would sit on Put and Monitor.
type Server struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	monitors map[string][]*Subscription
}

// NewServer creates an empty record server.
func NewServer() *Server {
	return &Server{
		records:  make(map[string]*Record),
		monitors: make(map[string][]*Subscription),
	}
}

// Create registers a new record. A name maps to one record for the server's lifetime.
func (s *Server) Create(spec Spec) (*Record, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("record name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[spec.Name]; ok {
		return nil, &DuplicateNameError{Name: spec.Name}
	}
	r := &Record{spec: spec, server: s, value: spec.Initial}
	s.records[spec.Name] = r
	s.order = append(s.order, spec.Name)
	logrus.Debugf("Creating record %s (%s, scan %s)", spec.Name, spec.Kind, spec.Scan)
	return r, nil
}

// Lookup returns the record registered under name.
func (s *Server) Lookup(name string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	return r, ok
}

// Names lists record names in creation order.
func (s *Server) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Len returns the number of hosted records.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Server) lookup(name string) (*Record, error) {
	r, ok := s.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r, nil
}

// Put emulates a client write to name.
func (s *Server) Put(name string, v Value) error {
	r, err := s.lookup(name)
	if err != nil {
		return err
	}
	r.put(v)
	return nil
}

// Process forces name to process with its current value.
func (s *Server) Process(name string) error {
	r, err := s.lookup(name)
	if err != nil {
		return err
	}
	r.Process()
	return nil
}

// Monitor subscribes fn to updates of name. The current value is delivered
// immediately, as a channel access monitor does on connect.
func (s *Server) Monitor(name string, fn func(Value)) (*Subscription, error) {
	return s.subscribe(name, NoIndex, func(_ int, v Value) { fn(v) })
}

// MonitorGroup subscribes one shared callback to several names; each update carries
// the index of the name that changed.
func (s *Server) MonitorGroup(names []string, fn func(int, Value)) ([]*Subscription, error) {
	subs := make([]*Subscription, 0, len(names))
	for i, name := range names {
		sub, err := s.subscribe(name, i, fn)
		if err != nil {
			for _, done := range subs {
				done.Close()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *Server) subscribe(name string, index int, fn func(int, Value)) (*Subscription, error) {
	r, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{server: s, name: name, index: index, fn: fn}
	// Holding postMu orders the connect delivery with posts from concurrent sets.
	r.postMu.Lock()
	defer r.postMu.Unlock()
	s.mu.Lock()
	s.monitors[name] = append(s.monitors[name], sub)
	s.mu.Unlock()
	sub.deliver(r.Get())
	return sub, nil
}

// Monitors returns the number of open subscriptions on name.
func (s *Server) Monitors(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.monitors[name])
}

func (s *Server) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[sub.name] = slices.DeleteFunc(s.monitors[sub.name], func(o *Subscription) bool { return o == sub })
}

// post delivers v to every subscriber of r. Callbacks run outside server locks.
func (s *Server) post(r *Record, v Value) {
	s.mu.RLock()
	subs := slices.Clone(s.monitors[r.spec.Name])
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(v)
	}
}

// Run re-posts periodic records at their scan interval until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	byInterval := make(map[time.Duration][]*Record)
	s.mu.RLock()
	for _, name := range s.order {
		r := s.records[name]
		if r.spec.Scan.Mode == ScanPeriodic {
			byInterval[r.spec.Scan.Interval] = append(byInterval[r.spec.Scan.Interval], r)
		}
	}
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for interval, records := range byInterval {
		logrus.Debugf("Scanning %d records every %s", len(records), interval)
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					for _, r := range records {
						r.repost()
					}
				}
			}
		})
	}
	return g.Wait()
}

// Subscription is one monitor on one record. Deliveries to a subscription are
// serialized; different subscriptions may be called concurrently.
type Subscription struct {
	server *Server
	name   string
	index  int
	fn     func(int, Value)

	mu     sync.Mutex
	closed atomic.Bool
}

// Name is the monitored record name.
func (sub *Subscription) Name() string { return sub.name }

// Index is the position within a group, or NoIndex.
func (sub *Subscription) Index() int { return sub.index }

// Close stops deliveries. It is safe to call more than once.
func (sub *Subscription) Close() {
	if sub.closed.Swap(true) {
		return
	}
	sub.server.unsubscribe(sub)
}

func (sub *Subscription) deliver(v Value) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed.Load() {
		return
	}
	sub.fn(sub.index, v)
}
