// Package connection implements the Transport Manager component.
//
// The Transport Manager:
//   - Owns exactly one logical WebSocket connection to the alert broker
//   - Connect is idempotent; concurrent callers share one in-flight dial
//   - Reconnects automatically under a bounded retry policy (fixed or exponential)
//   - Enters a terminal Error state once attempts are exhausted until Reconnect is called
//   - Emits typed lifecycle events (connecting, connected, disconnected, error)
//   - Publishes best-effort and drops malformed inbound frames before dispatch
package connection
