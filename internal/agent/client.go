// ABOUTME: HTTP client for the external conversational agent service.
// ABOUTME: Sends prompts and streams typed SSE events back (init, assistant, result, error).

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// EventType represents SSE event types from the agent service.
type EventType string

const (
	// EventInit carries the session id assigned to this run.
	EventInit EventType = "init"
	// EventAssistant carries content blocks of the reply.
	EventAssistant EventType = "assistant"
	// EventResult closes the run with the session id and cost.
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Event is a parsed Server-Sent Event.
type Event struct {
	Type EventType
	Data string
}

// initEventData is the JSON payload of init events.
type initEventData struct {
	SessionID string `json:"session_id"`
}

// assistantEventData is the JSON payload of assistant events.
type assistantEventData struct {
	Blocks []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// resultEventData is the JSON payload of result events.
type resultEventData struct {
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
}

// errorEventData is the JSON payload of error events.
type errorEventData struct {
	Error string `json:"error"`
}

// Request is one agent invocation.
type Request struct {
	// Prompt is the full prompt text, context included.
	Prompt string `json:"prompt"`
	// SessionID resumes a previous conversation when non-empty.
	SessionID string `json:"session_id,omitempty"`
	// Workspace is the agent's working directory for this conversation.
	Workspace string `json:"workspace,omitempty"`
	// RequestID correlates logs across the relay and the agent.
	RequestID string `json:"request_id"`
}

// Result is the outcome of one agent invocation.
type Result struct {
	// Text is the concatenated assistant output.
	Text string
	// SessionID is persisted so the next turn in this conversation
	// resumes with full context.
	SessionID string
	// CostUSD is the reported run cost, zero when the agent omits it.
	CostUSD float64
}

// Client talks to the agent service over HTTP + SSE.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an agent client. The zero http.Client timeout is
// intentional: agent runs are long-lived and bounded by ctx instead.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Send posts one request and consumes the SSE stream to completion.
// onEvent, when non-nil, observes every event as it arrives.
func (c *Client) Send(ctx context.Context, req Request, onEvent func(Event)) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	return c.parseStream(ctx, resp.Body, onEvent)
}

// handleErrorResponse extracts the error message from non-200 responses.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp errorEventData
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("agent error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}
	return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(body))
}

// parseStream reads SSE events from the response body and accumulates
// the result.
func (c *Client) parseStream(ctx context.Context, body io.Reader, onEvent func(Event)) (*Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType EventType
	var dataLines []string
	var text strings.Builder
	result := &Result{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				event := Event{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}
				if err := c.consume(event, &text, result); err != nil {
					return nil, err
				}
				if onEvent != nil {
					onEvent(event)
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading SSE stream: %w", err)
	}

	result.Text = text.String()
	return result, nil
}

// consume folds one event into the accumulating result.
func (c *Client) consume(event Event, text *strings.Builder, result *Result) error {
	switch event.Type {
	case EventInit:
		var data initEventData
		if json.Unmarshal([]byte(event.Data), &data) == nil && data.SessionID != "" {
			result.SessionID = data.SessionID
		}
	case EventAssistant:
		var data assistantEventData
		if json.Unmarshal([]byte(event.Data), &data) == nil {
			for _, block := range data.Blocks {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
		}
	case EventResult:
		var data resultEventData
		if json.Unmarshal([]byte(event.Data), &data) == nil {
			if data.SessionID != "" {
				result.SessionID = data.SessionID
			}
			result.CostUSD = data.CostUSD
		}
	case EventError:
		var data errorEventData
		if json.Unmarshal([]byte(event.Data), &data) == nil && data.Error != "" {
			return fmt.Errorf("agent error: %s", data.Error)
		}
		return fmt.Errorf("agent error: %s", event.Data)
	}
	return nil
}
