// Package toast implements the Toast Scheduler component.
//
// The Toast Scheduler:
//   - Turns new, previously unseen, unread alerts into ephemeral toasts
//   - Never toasts alerts that were part of the initial snapshot
//   - Caps visible toasts at a quota, evicting the oldest first
//   - Expires each toast on its own timer; urgent toasts stay until dismissed
//   - Forwards admitted toasts to a Notifier once permission is granted
package toast
