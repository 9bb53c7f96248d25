// Package feed wires the alert delivery components into one service.
//
// A Feed owns:
//   - the subscription registry over the injected transport
//   - the reconciliation store and the toast scheduler
//   - the delta router that feeds both from topic messages
//   - the snapshot loader used by Start and Refresh
//
// Consumers read alerts, stats and toasts from the Feed and trigger actions
// through it. They never touch the transport directly.
package feed
