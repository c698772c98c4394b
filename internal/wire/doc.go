// ABOUTME: Package documentation for the wire package.
// ABOUTME: Describes the network session abstraction and reconnect policy.

// Package wire abstracts the messaging network behind small Dialer and
// Session interfaces so the connection manager's state machine never
// touches a concrete client library. Drivers (see the matrix
// subpackage) normalize their library's events into ConnectionUpdate
// and Message values and classify closes into CloseCode, which the
// ReconnectPolicy table maps to a recovery strategy.
package wire
