// Package api provides the REST client of the alert service.
//
// Endpoints (relative to the configured base URL):
//   - GET    /alertes/employe/{id}  snapshot of one identity's alerts
//   - PATCH  /alertes/{id}/lu       mark one alert read (404 if missing)
//   - DELETE /alertes/{id}          delete one alert (idempotent)
//   - POST   /alertes               create an alert
//
// Failures are returned as *RequestError carrying a Kind: Network,
// Unauthorized, NotFound, Server or Invalid. 5xx and 429 responses are
// retried with jittered exponential backoff.
package api
