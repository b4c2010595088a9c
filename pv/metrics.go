package pv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodeUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "virtac_node_updates_total",
		Help: "Values stored by subscription and offset-chain nodes, by policy",
	}, []string{"policy"})

	collateNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtac_collate_notifications_total",
		Help: "Source notifications received by collate nodes",
	})

	collateDrains = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtac_collate_drains_total",
		Help: "Collate re-read-and-store passes performed by the drain task",
	})

	simPulls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtac_sim_pulls_total",
		Help: "Readback values pulled from the simulator",
	})

	simPullErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtac_sim_pull_errors_total",
		Help: "Readback pulls that failed because a simulated field was missing",
	})

	simWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "virtac_sim_writes_total",
		Help: "Setpoint values written to simulated items",
	})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "virtac_active_subscriptions",
		Help: "Open monitor subscriptions held by nodes",
	})
)
