// ABOUTME: Tests for the echo suppressor used to filter self-sent messages.
// ABOUTME: Validates TTL expiry, refresh semantics, sweep behavior, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuppressor_UnknownIDIsNotEcho(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	assert.False(t, s.IsEcho("never-sent"))
}

func TestSuppressor_RecordedIDIsEcho(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	s.Record("msg-1")
	assert.True(t, s.IsEcho("msg-1"))
}

func TestSuppressor_ExpiresAfterTTL(t *testing.T) {
	s := New(10 * time.Millisecond)
	defer s.Close()

	s.Record("msg-1")
	assert.True(t, s.IsEcho("msg-1"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.IsEcho("msg-1"))
}

func TestSuppressor_RecordRefreshesExpiry(t *testing.T) {
	s := New(50 * time.Millisecond)
	defer s.Close()

	s.Record("msg-1")
	time.Sleep(30 * time.Millisecond)
	s.Record("msg-1")
	time.Sleep(30 * time.Millisecond)

	// Past the original expiry but within the refreshed one.
	assert.True(t, s.IsEcho("msg-1"))
}

func TestSuppressor_EmptyIDIgnored(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	s.Record("")
	assert.False(t, s.IsEcho(""))
	assert.Equal(t, 0, s.Len())
}

func TestSuppressor_SweepRemovesExpired(t *testing.T) {
	s := New(5 * time.Millisecond)
	defer s.Close()

	s.Record("a")
	s.Record("b")
	s.Record("c")
	assert.Equal(t, 3, s.Len())

	time.Sleep(10 * time.Millisecond)
	s.sweep()
	assert.Equal(t, 0, s.Len())
}

func TestSuppressor_SweepKeepsLive(t *testing.T) {
	s := New(100 * time.Millisecond)
	defer s.Close()

	s.Record("old")
	// Refreshing moves "old" behind "new" in expiry order.
	s.Record("new")
	s.Record("old")

	s.sweep()
	assert.True(t, s.IsEcho("old"))
	assert.True(t, s.IsEcho("new"))
	assert.Equal(t, 2, s.Len())
}

func TestSuppressor_Concurrent(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("msg-%d-%d", n, j)
				s.Record(id)
				s.IsEcho(id)
			}
		}(i)
	}
	wg.Wait()

	s.Record("final")
	assert.True(t, s.IsEcho("final"))
}

func TestSuppressor_CloseIsIdempotent(t *testing.T) {
	s := New(time.Minute)
	s.Record("msg")
	s.Close()
	s.Close()
}
