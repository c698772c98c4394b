// Package dedupe filters self-echo: inbound events that report a message this
// process itself just sent. Send paths record every outbound message ID; the
// inbound path discards events whose ID is still live in the suppressor.
package dedupe
