// Package store implements the Reconciliation Store component.
//
// The Reconciliation Store:
//   - Merges the REST snapshot and streamed deltas into one deduplicated collection keyed by alert ID
//   - Lists alerts newest first (CreatedAt descending, ID descending)
//   - Keeps read state monotonic: no delta moves an alert from Read back to Unread
//   - Leaves tombstones for deleted IDs so late duplicates do not resurrect them
//   - Applies mark-read and delete optimistically behind revertible tokens
//   - Recomputes derived statistics on every mutation
package store
