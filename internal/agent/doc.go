// ABOUTME: Package documentation for the agent package.
// ABOUTME: Describes the HTTP+SSE contract with the external agent service.

// Package agent is the client for the external conversational agent.
// A run is one POST returning a text/event-stream of typed events:
// init announces the session id, assistant carries content blocks,
// result closes the run with the final session id and cost. The relay
// persists the session id per conversation so the next turn resumes
// with context.
package agent
