// Package pv implements the record propagation graph: nodes that own records and
// define what happens when those records change.
//
// # Reading Guide
//
// Start with node.go for the closed set of node variants and the base every variant
// embeds. Then:
//
//   - source.go: nodes bound to a simulated (item, field) pair. SourceReadNode pulls
//     after a physics recompute; SourceReadWriteNode pushes client writes into the
//     simulator and mirrors them into its paired readback.
//   - monitor.go: the watch list and subscription lifecycle shared by every node that
//     reacts to other records. Watches are recorded at construction and survive
//     disable/enable cycles unchanged.
//   - subscription.go: SubscriptionNode and its propagation policies (basic, invert,
//     summate, collate). All notifications pass through one dispatch point, notify.
//   - drain.go: the periodic task that flushes pending collate updates at a ceiling
//     rate.
//   - offset.go: OffsetChainNode and TransferRecord, which emulate the tune feedback
//     loop by adding an externally supplied delta to a setpoint's simulator write.
//
// Nodes never look each other up by name at runtime; the graph builder in package
// server wires every reference during construction.
package pv
