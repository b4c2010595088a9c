package pv

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/DiamondLightSource/virtac/pv/record"
)

// Callback receives a monitored value. index is the position of the changed name
// within a watch that shares one callback, or record.NoIndex.
type Callback func(index int, v record.Value)

// Monitor is the subscription side of the record server. *record.Server implements it.
type Monitor interface {
	Monitor(name string, fn func(record.Value)) (*record.Subscription, error)
	MonitorGroup(names []string, fn func(int, record.Value)) ([]*record.Subscription, error)
}

// Watch is one recorded subscription request: either a single callback shared by
// all names, or one callback per name.
type Watch struct {
	Names     []string
	callbacks []Callback
}

// Shared reports whether every name reports through one callback with an index.
func (w Watch) Shared() bool {
	return len(w.callbacks) == 1 && len(w.Names) > 1
}

// Monitored is implemented by nodes that react to other records.
type Monitored interface {
	Node
	EnableMonitoring() error
	DisableMonitoring()
	Monitoring() bool
	Watches() []Watch
}

// monitoring keeps a node's watch list and its open subscriptions. The watch list is
// fixed once construction ends and is what EnableMonitoring subscribes from.
type monitoring struct {
	owner  string
	server Monitor

	mu      sync.Mutex
	watches []Watch
	subs    []*record.Subscription
	enabled bool
}

// watch records a subscription request without subscribing. Either one callback
// serves every name, or there is exactly one per name.
func (m *monitoring) watch(names []string, callbacks ...Callback) error {
	if len(names) == 0 {
		return fmt.Errorf("pv %s: no names to monitor", m.owner)
	}
	if len(callbacks) != 1 && len(callbacks) != len(names) {
		return fmt.Errorf("pv %s: %d callbacks for %d monitored names", m.owner, len(callbacks), len(names))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		for _, w := range m.watches {
			if slices.Contains(w.Names, name) {
				logrus.Warnf("%s already monitors %s; every watch gets its own subscription", m.owner, name)
			}
		}
	}
	m.watches = append(m.watches, Watch{Names: slices.Clone(names), callbacks: slices.Clone(callbacks)})
	return nil
}

// EnableMonitoring subscribes every recorded watch. Each subscription delivers the
// current value immediately. Enabling an enabled node does nothing.
func (m *monitoring) EnableMonitoring() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return nil
	}
	logrus.Debugf("Enabling monitoring for %s", m.owner)
	var subs []*record.Subscription
	for _, w := range m.watches {
		opened, err := m.subscribe(w)
		subs = append(subs, opened...)
		if err != nil {
			for _, sub := range subs {
				sub.Close()
			}
			return fmt.Errorf("pv %s: %w", m.owner, err)
		}
	}
	m.subs = subs
	m.enabled = true
	activeSubscriptions.Add(float64(len(subs)))
	return nil
}

func (m *monitoring) subscribe(w Watch) ([]*record.Subscription, error) {
	if w.Shared() {
		return m.server.MonitorGroup(w.Names, w.callbacks[0])
	}
	var subs []*record.Subscription
	for i, name := range w.Names {
		fn := w.callbacks[min(i, len(w.callbacks)-1)]
		sub, err := m.server.Monitor(name, func(v record.Value) { fn(record.NoIndex, v) })
		if err != nil {
			return subs, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// DisableMonitoring closes every subscription. The watch list is kept so a later
// EnableMonitoring restores the same set.
func (m *monitoring) DisableMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	logrus.Debugf("Disabling monitoring for %s", m.owner)
	for _, sub := range m.subs {
		sub.Close()
	}
	activeSubscriptions.Sub(float64(len(m.subs)))
	m.subs = nil
	m.enabled = false
}

// Monitoring reports whether subscriptions are open.
func (m *monitoring) Monitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Watches returns the recorded watch list.
func (m *monitoring) Watches() []Watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Watch, len(m.watches))
	for i, w := range m.watches {
		out[i] = Watch{Names: slices.Clone(w.Names), callbacks: w.callbacks}
	}
	return out
}

func (m *monitoring) watchedNames() []string {
	var names []string
	for _, w := range m.Watches() {
		names = append(names, w.Names...)
	}
	return names
}
