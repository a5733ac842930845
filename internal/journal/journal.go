// Package journal records per-job routing events. The in-memory journal
// backs the status API's recent-jobs view; the Postgres journal keeps a
// durable trail when a DSN is configured. Journal writes are best-effort
// and never influence message acknowledgement.
package journal

import (
	"context"
	"time"
)

// Event is one recorded routing decision.
type Event struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Platform   string    `json:"platform"`
	Tier       string    `json:"tier"`
	Queue      string    `json:"queue,omitempty"`
	Score      float64   `json:"score"`
	DurationMs int64     `json:"duration_ms"`
	Fallback   bool      `json:"fallback"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	RoutedAt   time.Time `json:"routed_at"`
}

// Journal stores routing events.
type Journal interface {
	// Record stores one event. Implementations must not fail the caller;
	// persistence errors are logged and swallowed.
	Record(ctx context.Context, ev *Event)

	// Recent returns up to limit events, newest first.
	Recent(limit int) []*Event

	// Close releases journal resources.
	Close()
}

// Multi fans Record out to several journals. Recent reads from the first.
type Multi []Journal

func (m Multi) Record(ctx context.Context, ev *Event) {
	for _, j := range m {
		j.Record(ctx, ev)
	}
}

func (m Multi) Recent(limit int) []*Event {
	if len(m) == 0 {
		return nil
	}
	return m[0].Recent(limit)
}

func (m Multi) Close() {
	for _, j := range m {
		j.Close()
	}
}
