// Package model defines shared data types used across the alert feed.
//
// Conventions:
//   - IDs: opaque server-assigned strings (usually numeric)
//   - Timestamps: time.Time, UTC where the server does not say otherwise
//   - Ordering: CreatedAt descending, ID descending as tiebreak
package model
