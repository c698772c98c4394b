// ABOUTME: Tests for the thread context buffer.
// ABOUTME: Validates registration gating, arrival-order drain, and drain-empties semantics.

package threadbuf

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendBeforeRegisterIsDropped(t *testing.T) {
	b := New()

	b.Append("chan-1", "thread-1", Message{Text: "lost"})
	b.Register("chan-1", "thread-1")

	assert.Empty(t, b.Drain("chan-1", "thread-1"))
}

func TestBuffer_DrainReturnsArrivalOrder(t *testing.T) {
	b := New()
	b.Register("chan-1", "thread-1")

	m1 := Message{Sender: "alice", Text: "first"}
	m2 := Message{Sender: "bob", Text: "second"}
	b.Append("chan-1", "thread-1", m1)
	b.Append("chan-1", "thread-1", m2)

	got := b.Drain("chan-1", "thread-1")
	require.Len(t, got, 2)
	assert.Equal(t, []Message{m1, m2}, got)

	// A second drain is empty but the thread stays registered.
	assert.Empty(t, b.Drain("chan-1", "thread-1"))
	assert.True(t, b.Has("chan-1", "thread-1"))
}

func TestBuffer_DrainUnregisteredIsEmpty(t *testing.T) {
	b := New()
	assert.Nil(t, b.Drain("chan-1", "nope"))
}

func TestBuffer_RegisterIsIdempotent(t *testing.T) {
	b := New()
	b.Register("chan-1", "thread-1")
	b.Append("chan-1", "thread-1", Message{Text: "kept"})

	// Re-registering must not discard buffered messages.
	b.Register("chan-1", "thread-1")

	got := b.Drain("chan-1", "thread-1")
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Text)
}

func TestBuffer_ThreadsAreIsolated(t *testing.T) {
	b := New()
	b.Register("chan-1", "thread-1")
	b.Register("chan-1", "thread-2")
	b.Register("chan-2", "thread-1")

	b.Append("chan-1", "thread-1", Message{Text: "a"})
	b.Append("chan-1", "thread-2", Message{Text: "b"})
	b.Append("chan-2", "thread-1", Message{Text: "c"})

	assert.Equal(t, "a", b.Drain("chan-1", "thread-1")[0].Text)
	assert.Equal(t, "b", b.Drain("chan-1", "thread-2")[0].Text)
	assert.Equal(t, "c", b.Drain("chan-2", "thread-1")[0].Text)
}

func TestBuffer_Concurrent(t *testing.T) {
	b := New()
	b.Register("chan-1", "thread-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Append("chan-1", "thread-1", Message{Text: fmt.Sprintf("%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, b.Drain("chan-1", "thread-1"), 20*50)
}
