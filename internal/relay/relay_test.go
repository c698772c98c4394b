// ABOUTME: Tests for the relay conversation loop.
// ABOUTME: Uses fake sender/agent to verify turn flow, resume tokens, and attachment limits.

package relay

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/agent"
	"github.com/2389/coven-relay/internal/store"
	"github.com/2389/coven-relay/internal/threadbuf"
	"github.com/2389/coven-relay/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (f *fakeSender) SendText(ctx context.Context, chatID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	f.texts = append(f.texts, text)
}

func (f *fakeSender) SendPresence(ctx context.Context, chatID string, typing bool) {}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeAgent struct {
	mu       sync.Mutex
	requests []agent.Request
	reply    string
	session  string
	err      error
	gate     chan struct{} // when non-nil, Send blocks until closed
}

func (f *fakeAgent) Send(ctx context.Context, req agent.Request, onEvent func(agent.Event)) (*agent.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{Text: f.reply, SessionID: f.session}, nil
}

func (f *fakeAgent) seen() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

type fakeDownloader struct {
	path string
	err  error
}

func (f *fakeDownloader) Download(ctx context.Context, msg wire.Message) (string, error) {
	return f.path, f.err
}

func setupTokens(t *testing.T) store.SessionTokenStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tokens.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRelay(t *testing.T, sender *fakeSender, ag *fakeAgent, dl Downloader) *Relay {
	t.Helper()
	return New(sender, ag, setupTokens(t), dl, Config{Workspace: "/work"}, testLogger())
}

func waitSent(t *testing.T, sender *fakeSender, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sender.sent()) >= n
	}, time.Second, time.Millisecond)
}

func TestRelay_TurnFlowsToAgentAndBack(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{reply: "hello back", session: "sess-1"}
	r := newTestRelay(t, sender, ag, nil)

	r.HandleMessage(context.Background(), wire.Message{
		ID: "m1", ChatID: "chat", SenderID: "alice", Plain: "hello",
	})

	waitSent(t, sender, 1)
	assert.Equal(t, []string{"hello back"}, sender.sent())

	reqs := ag.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "hello", reqs[0].Prompt)
	assert.Empty(t, reqs[0].SessionID, "first turn has no resume token")
	assert.Equal(t, "/work", reqs[0].Workspace)
}

func TestRelay_ResumeTokenPersistsAcrossTurns(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{reply: "ok", session: "sess-1"}
	r := newTestRelay(t, sender, ag, nil)

	r.HandleMessage(context.Background(), wire.Message{ID: "m1", ChatID: "chat", SenderID: "a", Plain: "one"})
	waitSent(t, sender, 1)

	r.HandleMessage(context.Background(), wire.Message{ID: "m2", ChatID: "chat", SenderID: "a", Plain: "two"})
	waitSent(t, sender, 2)

	reqs := ag.seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, "sess-1", reqs[1].SessionID, "second turn resumes the saved session")
}

func TestRelay_MessagesDuringTurnAreBufferedIntoNext(t *testing.T) {
	sender := &fakeSender{}
	gate := make(chan struct{})
	ag := &fakeAgent{reply: "ok", gate: gate}
	r := newTestRelay(t, sender, ag, nil)

	r.HandleMessage(context.Background(), wire.Message{ID: "m1", ChatID: "chat", SenderID: "alice", Plain: "first"})

	// Wait until the first turn is inside the agent call.
	require.Eventually(t, func() bool {
		return len(ag.seen()) == 1
	}, time.Second, time.Millisecond)

	r.HandleMessage(context.Background(), wire.Message{ID: "m2", ChatID: "chat", SenderID: "alice", Plain: "second"})
	close(gate)

	waitSent(t, sender, 2)
	reqs := ag.seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, "first", reqs[0].Prompt)
	assert.Equal(t, "second", reqs[1].Prompt)
}

func TestRelay_CoalescedTurnSeesAllBufferedMessages(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{reply: "ok"}
	r := New(sender, ag, setupTokens(t), nil, Config{}, testLogger())

	// Seed the thread buffer directly, as if a message landed before
	// the turn ran, then deliver the message that triggers the turn.
	r.threads.Register("chat", "")
	r.threads.Append("chat", "", threadbuf.Message{Sender: "alice", Text: "earlier", MessageID: "m0"})

	r.HandleMessage(context.Background(), wire.Message{ID: "m1", ChatID: "chat", SenderID: "bob", Plain: "now"})

	waitSent(t, sender, 1)
	reqs := ag.seen()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "alice: earlier")
	assert.Contains(t, reqs[0].Prompt, "bob: now")
}

func TestRelay_AgentFailureDoesNotBlockNextTurn(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{err: assert.AnError}
	r := newTestRelay(t, sender, ag, nil)

	r.HandleMessage(context.Background(), wire.Message{ID: "m1", ChatID: "chat", SenderID: "a", Plain: "bad"})

	require.Eventually(t, func() bool {
		return len(ag.seen()) == 1
	}, time.Second, time.Millisecond)

	ag.mu.Lock()
	ag.err = nil
	ag.reply = "recovered"
	ag.mu.Unlock()

	r.HandleMessage(context.Background(), wire.Message{ID: "m2", ChatID: "chat", SenderID: "a", Plain: "retry"})
	waitSent(t, sender, 1)
	assert.Equal(t, []string{"recovered"}, sender.sent())
}

func TestRelay_OversizedAttachmentRelaysWithoutIt(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{reply: "got it"}
	dl := &fakeDownloader{err: &SizeLimitError{Size: 99_000_000, Limit: 50_000_000}}
	r := newTestRelay(t, sender, ag, dl)

	r.HandleMessage(context.Background(), wire.Message{
		ID: "m1", ChatID: "chat", SenderID: "a", Caption: "look at this", Media: wire.MediaVideo,
	})

	waitSent(t, sender, 1)
	reqs := ag.seen()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "look at this")
	assert.Contains(t, reqs[0].Prompt, "attachment omitted")
	assert.Contains(t, reqs[0].Prompt, "exceeds limit")
}

func TestRelay_DownloadedFileOverCapIsOmitted(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{reply: "ok"}
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o644))

	r := New(sender, ag, setupTokens(t), &fakeDownloader{path: path}, Config{
		MaxAttachmentBytes: 1024,
	}, testLogger())

	r.HandleMessage(context.Background(), wire.Message{
		ID: "m1", ChatID: "chat", SenderID: "a", Caption: "big file", Media: wire.MediaDocument,
	})

	waitSent(t, sender, 1)
	reqs := ag.seen()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "attachment omitted")
	assert.Contains(t, reqs[0].Prompt, "exceeds limit 1024")
}

func TestRelay_ThreadedMessagesUseDistinctKeys(t *testing.T) {
	sender := &fakeSender{}
	ag := &fakeAgent{reply: "ok", session: "sess-t"}
	r := newTestRelay(t, sender, ag, nil)

	r.HandleMessage(context.Background(), wire.Message{ID: "m1", ChatID: "chat", ThreadID: "t1", SenderID: "a", Plain: "in thread"})
	waitSent(t, sender, 1)

	r.HandleMessage(context.Background(), wire.Message{ID: "m2", ChatID: "chat", SenderID: "a", Plain: "in main"})
	waitSent(t, sender, 2)

	reqs := ag.seen()
	require.Len(t, reqs, 2)
	// The main-channel turn must not resume the thread's session.
	assert.Empty(t, reqs[1].SessionID)
}
