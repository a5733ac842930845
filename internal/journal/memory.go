package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryJournal keeps a bounded in-memory window of routing events.
// It is designed to be lightweight and serve the status API; durable
// history belongs to the Postgres journal.
type MemoryJournal struct {
	mu      sync.RWMutex
	events  []*Event      // newest last
	ttl     time.Duration // how long to keep entries
	maxSize int           // hard cap on retained entries
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory journal.
func NewMemory(ttl time.Duration, maxSize int) *MemoryJournal {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	j := &MemoryJournal{
		ttl:     ttl,
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
	go j.cleanupLoop()
	return j
}

// Record appends an event, assigning an ID and timestamp when absent.
func (j *MemoryJournal) Record(_ context.Context, ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.RoutedAt.IsZero() {
		ev.RoutedAt = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, ev)
	if len(j.events) > j.maxSize {
		j.events = j.events[len(j.events)-j.maxSize:]
	}
}

// Recent returns up to limit events, newest first.
func (j *MemoryJournal) Recent(limit int) []*Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *j.events[i]
		out = append(out, &cp)
	}
	return out
}

// Close stops the cleanup goroutine.
func (j *MemoryJournal) Close() {
	j.once.Do(func() { close(j.stopCh) })
}

// cleanupLoop periodically drops entries older than the TTL.
func (j *MemoryJournal) cleanupLoop() {
	ticker := time.NewTicker(j.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-j.ttl)
			j.mu.Lock()
			i := 0
			for i < len(j.events) && j.events[i].RoutedAt.Before(cutoff) {
				i++
			}
			if i > 0 {
				j.events = append([]*Event(nil), j.events[i:]...)
			}
			j.mu.Unlock()
		}
	}
}
