// ABOUTME: Package documentation for the matrix driver.
// ABOUTME: Describes how mautrix sessions are mapped onto the wire abstraction.

// Package matrix implements the wire.Dialer and wire.Session
// interfaces on top of maunium.net/go/mautrix. Password login serves
// as the pairing step and persists the access token through the
// credential store; sync state (filter id, next-batch token) lives in
// the store's protocol key table so logout wipes everything at once.
package matrix
