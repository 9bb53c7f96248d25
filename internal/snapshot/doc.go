// Package snapshot implements the Snapshot Loader component.
//
// Each Load bumps a generation and cancels the previous in-flight fetch, so a
// slow response can never overwrite a fresher one. Failures are returned as
// *api.RequestError; the caller decides how to degrade.
package snapshot
