// Package poller implements the resync poller.
//
// The poller:
//   - Checks the feed every Interval
//   - Refreshes the snapshot only while the feed reports degraded
//   - Bounds each refresh with Timeout
package poller
