// ABOUTME: Package documentation for the relay package.
// ABOUTME: Describes the inbound-to-agent-to-outbound conversation loop.

// Package relay connects the network side to the agent side. Every
// inbound message lands in its thread's context buffer and schedules a
// turn on the conversation's FIFO queue; the turn drains the buffer
// into a prompt, resumes the agent session from the persisted token,
// and relays the reply back out. A turn that finds its buffer already
// drained by an earlier turn does nothing, which coalesces rapid
// message bursts into a single agent call.
package relay
