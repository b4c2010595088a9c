package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/DiamondLightSource/virtac/pv"
	"github.com/DiamondLightSource/virtac/pv/lattice"
	"github.com/DiamondLightSource/virtac/pv/record"
)

// Virtac is a built record graph bound to a lattice.
type Virtac struct {
	id      uuid.UUID
	lat     lattice.Lattice
	opts    Options
	records *record.Server
	drainer *pv.Drainer

	// nodes and order are fixed once Build returns.
	nodes   map[string]pv.Node
	order   []string
	pullers []pv.Puller

	mu         sync.Mutex
	monitoring bool
}

// ID identifies this instance in logs and stats.
func (v *Virtac) ID() uuid.UUID { return v.id }

// Records returns the record server hosting every record.
func (v *Virtac) Records() *record.Server { return v.records }

// Lattice returns the simulator the graph is bound to.
func (v *Virtac) Lattice() lattice.Lattice { return v.lat }

// Drainer returns the collate drain task.
func (v *Virtac) Drainer() *pv.Drainer { return v.drainer }

// Node returns the node that owns name.
func (v *Virtac) Node(name string) (pv.Node, bool) {
	n, ok := v.nodes[name]
	return n, ok
}

// Nodes returns every node in construction order.
func (v *Virtac) Nodes() []pv.Node {
	out := make([]pv.Node, len(v.order))
	for i, name := range v.order {
		out[i] = v.nodes[name]
	}
	return out
}

// UpdateFromSim pulls every unpaired readback from the simulator. Every puller is
// attempted; the returned error joins the failures.
func (v *Virtac) UpdateFromSim() error {
	var errs []error
	for _, p := range v.pullers {
		if err := p.Pull(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Virtac) onRecompute() {
	if err := v.UpdateFromSim(); err != nil {
		logrus.WithField("instance", v.id.String()).Errorf("Updating from simulation: %v", err)
	}
}

// monitored lists every monitoring node in construction order, offset chains last.
// Enabling a chain processes its setpoint, which writes to the simulator, so chains
// only start once every mirror has subscribed.
func (v *Virtac) monitored() []pv.Monitored {
	var out, chains []pv.Monitored
	for _, name := range v.order {
		switch m := v.nodes[name].(type) {
		case *pv.OffsetChainNode:
			chains = append(chains, m)
		case pv.Monitored:
			out = append(out, m)
		}
	}
	return append(out, chains...)
}

// startMonitoring subscribes every node in monitored order. On failure all
// subscriptions are closed again. v.mu must be held, or v not yet shared.
func (v *Virtac) startMonitoring() error {
	nodes := v.monitored()
	for i, m := range nodes {
		if err := m.EnableMonitoring(); err != nil {
			for _, done := range nodes[:i] {
				done.DisableMonitoring()
			}
			return fmt.Errorf("starting monitoring: %w", err)
		}
	}
	v.monitoring = true
	return nil
}

// Monitoring reports whether mirror and offset-chain subscriptions are open.
func (v *Virtac) Monitoring() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.monitoring
}

// EnableMonitoring re-opens every subscription from the recorded watch lists. This
// resumes tune feedback and the mirrors.
func (v *Virtac) EnableMonitoring() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.monitoring {
		logrus.Warn("PV monitoring is already enabled, nothing to do.")
		return nil
	}
	logrus.Info("Enabling PV monitoring")
	return v.startMonitoring()
}

// DisableMonitoring closes every subscription, pausing tune feedback and the mirrors.
func (v *Virtac) DisableMonitoring() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.monitoring {
		logrus.Warn("PV monitoring is already disabled, nothing to do.")
		return
	}
	logrus.Info("Disabling PV monitoring")
	for _, m := range v.monitored() {
		m.DisableMonitoring()
	}
	v.monitoring = false
}

// Run drives the collate drain task and periodic record scans until ctx is done.
func (v *Virtac) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.drainer.Run(gctx) })
	g.Go(func() error { return v.records.Run(gctx) })
	return g.Wait()
}
