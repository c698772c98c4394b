// ABOUTME: Short-TTL set of recently self-sent message IDs for echo suppression.
// ABOUTME: Inbound events carrying a live recorded ID are our own messages bounced back.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// sweepInterval is how often the background goroutine drops expired records.
// Expiry is always enforced on read, so the sweep only bounds memory.
const sweepInterval = 30 * time.Second

type record struct {
	id        string
	expiresAt time.Time
}

// Suppressor tracks message IDs this process has sent, each expiring after a
// fixed TTL. Because the TTL is fixed, insertion order is expiry order: the
// records live in a list with the oldest at the front, and expired entries
// are swept off the front in one pass rather than with per-entry timers.
type Suppressor struct {
	mu     sync.Mutex
	byID   map[string]*list.Element
	order  *list.List
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// New creates a suppressor with the given TTL and starts its sweep goroutine.
func New(ttl time.Duration) *Suppressor {
	s := &Suppressor{
		byID:  make(map[string]*list.Element),
		order: list.New(),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Record notes that id was just sent by us. Re-recording refreshes the expiry.
func (s *Suppressor) Record(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.byID[id]; ok {
		elem.Value.(*record).expiresAt = time.Now().Add(s.ttl)
		s.order.MoveToBack(elem)
		return
	}
	s.byID[id] = s.order.PushBack(&record{id: id, expiresAt: time.Now().Add(s.ttl)})
}

// IsEcho reports whether id is currently recorded and unexpired.
func (s *Suppressor) IsEcho(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.byID[id]
	if !ok {
		return false
	}
	return time.Now().Before(elem.Value.(*record).expiresAt)
}

// Len returns the number of live records. Expired-but-unswept entries count.
func (s *Suppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Suppressor) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes expired records from the front of the list until it hits a
// live one. Refreshed records were moved to the back, so the front is always
// the oldest expiry.
func (s *Suppressor) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		rec := front.Value.(*record)
		if now.Before(rec.expiresAt) {
			return
		}
		s.order.Remove(front)
		delete(s.byID, rec.id)
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (s *Suppressor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
