// Package journal persists applied alert deltas to PostgreSQL.
//
// The writer drains the router's record queue and copies rows into the
// alert_events table in batches:
//   - a batch is flushed when it reaches BatchSize or every FlushInterval
//   - failed batches are logged and dropped
//
// The journal is an audit trail. Nothing reads it back at runtime.
package journal
