// ABOUTME: The conversation loop: inbound message to queued agent turn to outbound reply.
// ABOUTME: Serializes per conversation, drains thread context, and persists resume tokens.

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/2389/coven-relay/internal/agent"
	"github.com/2389/coven-relay/internal/queue"
	"github.com/2389/coven-relay/internal/store"
	"github.com/2389/coven-relay/internal/threadbuf"
	"github.com/2389/coven-relay/internal/wire"
)

// Sender is the outbound surface the relay needs from the connection
// manager. Sends are fire-and-forget: they no-op when disconnected.
type Sender interface {
	SendText(ctx context.Context, chatID, text string)
	SendPresence(ctx context.Context, chatID string, typing bool)
}

// Agent runs one conversational turn against the external agent.
type Agent interface {
	Send(ctx context.Context, req agent.Request, onEvent func(agent.Event)) (*agent.Result, error)
}

// Downloader fetches an inbound attachment to local storage and
// returns its path. Implementations enforce the size limit and return
// a SizeLimitError when exceeded.
type Downloader interface {
	Download(ctx context.Context, msg wire.Message) (string, error)
}

// SizeLimitError reports an attachment too large to download. The
// message still relays without it.
type SizeLimitError struct {
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("attachment size %d exceeds limit %d bytes", e.Size, e.Limit)
}

// Config tunes the relay loop.
type Config struct {
	// Workspace is the agent's working directory.
	Workspace string
	// TypingIndicator toggles presence while a turn is running.
	TypingIndicator bool
	// MaxAttachmentBytes caps downloaded attachments. Enforced here
	// even when the downloader has its own limit; 0 means no cap.
	MaxAttachmentBytes int64
}

// Relay wires inbound messages through per-conversation queues into
// agent turns and relays the output back.
type Relay struct {
	sender     Sender
	agent      Agent
	tokens     store.SessionTokenStore
	queues     *queue.Registry
	threads    *threadbuf.Buffer
	downloader Downloader
	cfg        Config
	logger     *slog.Logger
}

// New creates a relay. downloader may be nil when attachment handling
// is not wired for the target network.
func New(sender Sender, agentClient Agent, tokens store.SessionTokenStore, downloader Downloader, cfg Config, logger *slog.Logger) *Relay {
	return &Relay{
		sender:     sender,
		agent:      agentClient,
		tokens:     tokens,
		queues:     queue.NewRegistry(logger),
		threads:    threadbuf.New(),
		downloader: downloader,
		cfg:        cfg,
		logger:     logger.With("component", "relay"),
	}
}

// conversationKey selects the FIFO queue a message belongs to.
func conversationKey(msg wire.Message) string {
	if msg.ThreadID != "" {
		return msg.ChatID + "#" + msg.ThreadID
	}
	return msg.ChatID
}

// HandleMessage is registered as the connection manager's inbound
// handler. It buffers the message in its thread and enqueues a turn on
// the conversation's queue; if an earlier turn drains this message
// first, the later turn finds an empty buffer and does nothing.
func (r *Relay) HandleMessage(ctx context.Context, msg wire.Message) {
	key := conversationKey(msg)

	// Every conversation the relay sees is engaged: registration happens
	// eagerly here, and the buffer's unregistered-append guard protects
	// callers that feed the buffer outside this path (dispatch filtering
	// upstream already dropped groups, broadcasts, and echoes).
	if !r.threads.Has(msg.ChatID, msg.ThreadID) {
		r.threads.Register(msg.ChatID, msg.ThreadID)
	}
	r.threads.Append(msg.ChatID, msg.ThreadID, threadbuf.Message{
		Sender:    msg.SenderID,
		Text:      msg.Text(),
		MessageID: msg.ID,
	})

	r.queues.Get(key).Enqueue(ctx, func(ctx context.Context) error {
		return r.runTurn(ctx, key, msg)
	})
}

// runTurn executes one agent turn for a conversation.
func (r *Relay) runTurn(ctx context.Context, key string, msg wire.Message) error {
	buffered := r.threads.Drain(msg.ChatID, msg.ThreadID)
	if len(buffered) == 0 {
		// A previous turn already consumed this message as context.
		return nil
	}

	if r.cfg.TypingIndicator {
		r.sender.SendPresence(ctx, msg.ChatID, true)
		defer r.sender.SendPresence(ctx, msg.ChatID, false)
	}

	prompt := r.buildPrompt(ctx, buffered, msg)

	token, err := r.tokens.GetSessionToken(ctx, key)
	if err != nil {
		r.logger.Warn("failed to load session token", "key", key, "error", err)
	}

	result, err := r.agent.Send(ctx, agent.Request{
		Prompt:    prompt,
		SessionID: token,
		Workspace: r.cfg.Workspace,
	}, nil)
	if err != nil {
		return fmt.Errorf("agent turn for %s: %w", key, err)
	}

	if result.SessionID != "" && result.SessionID != token {
		if err := r.tokens.SaveSessionToken(ctx, key, result.SessionID); err != nil {
			r.logger.Warn("failed to save session token", "key", key, "error", err)
		}
	}

	if result.Text == "" {
		r.logger.Warn("empty agent response", "key", key)
		return nil
	}

	r.sender.SendText(ctx, msg.ChatID, result.Text)
	r.logger.Info("relayed agent response",
		"key", key,
		"length", len(result.Text),
		"cost_usd", result.CostUSD,
	)
	return nil
}

// buildPrompt folds the drained thread context and any attachment into
// one prompt. An oversized attachment is noted and skipped; the turn
// still runs.
func (r *Relay) buildPrompt(ctx context.Context, buffered []threadbuf.Message, msg wire.Message) string {
	var b strings.Builder
	if len(buffered) == 1 {
		b.WriteString(buffered[0].Text)
	} else {
		for _, m := range buffered {
			fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text)
		}
	}

	if msg.Media != wire.MediaNone && r.downloader != nil {
		path, err := r.downloader.Download(ctx, msg)
		if err == nil {
			err = r.checkSize(path)
		}
		switch {
		case err == nil:
			fmt.Fprintf(&b, "\n[attachment (%s) saved to %s]", msg.Media, path)
		default:
			var sizeErr *SizeLimitError
			if errors.As(err, &sizeErr) {
				r.logger.Warn("attachment rejected", "chat", msg.ChatID, "error", sizeErr)
				fmt.Fprintf(&b, "\n[attachment omitted: %s]", sizeErr)
			} else {
				r.logger.Error("attachment download failed", "chat", msg.ChatID, "error", err)
				b.WriteString("\n[attachment omitted: download failed]")
			}
		}
	}
	return b.String()
}

// checkSize enforces the configured attachment cap on a downloaded file.
func (r *Relay) checkSize(path string) error {
	if r.cfg.MaxAttachmentBytes <= 0 {
		return nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat downloaded attachment: %w", err)
	}
	if fi.Size() > r.cfg.MaxAttachmentBytes {
		return &SizeLimitError{Size: fi.Size(), Limit: r.cfg.MaxAttachmentBytes}
	}
	return nil
}

// Queues exposes the registry, mainly for observability.
func (r *Relay) Queues() *queue.Registry {
	return r.queues
}
