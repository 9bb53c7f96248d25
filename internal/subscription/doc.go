// Package subscription implements the Subscription Registry component.
//
// The Subscription Registry:
//   - Multiplexes local handlers onto one broker subscription per topic
//   - Reference-counts handlers; the broker unsubscribe is sent only at zero
//   - Re-issues every live topic, in registration order, on each connected event
//   - Clears all topics when the owner requests a disconnect
//   - Fans inbound bodies out to a copy of the handler list, recovering panics
package subscription
