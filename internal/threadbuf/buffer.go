// ABOUTME: Per-thread accumulator for messages seen while the agent is not engaged.
// ABOUTME: Drained in arrival order when the agent re-engages the thread.

package threadbuf

import "sync"

// Message is one buffered conversational message.
type Message struct {
	Sender    string
	Text      string
	MessageID string
}

type threadKey struct {
	channelID string
	threadID  string
}

// Buffer holds messages for registered threads only. Appends to threads
// nobody registered are dropped, which keeps memory bounded by the set of
// threads the agent actually engages.
type Buffer struct {
	mu      sync.Mutex
	threads map[threadKey][]Message
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{threads: make(map[threadKey][]Message)}
}

// Register marks a thread as watched. Idempotent: re-registering an already
// watched thread keeps its buffered messages.
func (b *Buffer) Register(channelID, threadID string) {
	key := threadKey{channelID, threadID}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.threads[key]; !ok {
		b.threads[key] = nil
	}
}

// Has reports whether the thread is registered.
func (b *Buffer) Has(channelID, threadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.threads[threadKey{channelID, threadID}]
	return ok
}

// Append adds msg to the thread's buffer. No-op for unregistered threads.
func (b *Buffer) Append(channelID, threadID string, msg Message) {
	key := threadKey{channelID, threadID}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.threads[key]; !ok {
		return
	}
	b.threads[key] = append(b.threads[key], msg)
}

// Drain returns all buffered messages in arrival order and empties the
// buffer. The thread stays registered. Returns nil for unregistered threads.
func (b *Buffer) Drain(channelID, threadID string) []Message {
	key := threadKey{channelID, threadID}

	b.mu.Lock()
	defer b.mu.Unlock()

	msgs, ok := b.threads[key]
	if !ok {
		return nil
	}
	b.threads[key] = nil
	return msgs
}
