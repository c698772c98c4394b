// ABOUTME: Package documentation for the connection package.
// ABOUTME: Describes session ownership, recovery, and dispatch filtering.

// Package connection owns the single network session. The Manager
// pairs, dials, and supervises sessions obtained from a wire.Dialer:
// closes are classified by the reconnect policy into immediate retry,
// backoff retry, or logout (credential wipe, no retry), and a watchdog
// forces a reconnect when inbound traffic goes silent while the
// session still claims to be open. Inbound events are filtered down to
// private messages with content, with self-echo suppressed via the
// message ids the send primitives return.
package connection
