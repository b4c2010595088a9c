package pv

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDrainInterval caps collate propagation at 5 Hz.
const DefaultDrainInterval = 200 * time.Millisecond

// Flusher is a node with rate-limited pending updates.
type Flusher interface {
	Flush() bool
}

// Drainer is the one periodic task that flushes collate nodes. A burst of
// notifications between ticks produces at most one store per node per tick, and the
// state just before a tick is always what gets published.
type Drainer struct {
	interval time.Duration

	mu    sync.Mutex
	nodes []Flusher
}

// NewDrainer creates a drainer ticking at interval, or DefaultDrainInterval when
// interval is not positive.
func NewDrainer(interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Drainer{interval: interval}
}

// Interval returns the drain period.
func (d *Drainer) Interval() time.Duration { return d.interval }

// Add registers a node to drain.
func (d *Drainer) Add(f Flusher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes = append(d.nodes, f)
}

// Len returns the number of registered nodes.
func (d *Drainer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// Drain flushes every registered node once and returns how many stored a value.
func (d *Drainer) Drain() int {
	d.mu.Lock()
	nodes := append([]Flusher(nil), d.nodes...)
	d.mu.Unlock()
	flushed := 0
	for _, f := range nodes {
		if f.Flush() {
			flushed++
		}
	}
	return flushed
}

// Run drains every interval until ctx is done.
func (d *Drainer) Run(ctx context.Context) error {
	logrus.Debugf("Draining %d collate nodes every %s", d.Len(), d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Drain()
		}
	}
}
