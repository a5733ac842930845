package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/vela/internal/logging"
)

const routingEventsSchema = `
CREATE TABLE IF NOT EXISTS routing_events (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	platform    TEXT NOT NULL,
	tier        TEXT NOT NULL,
	queue       TEXT NOT NULL DEFAULT '',
	score       DOUBLE PRECISION NOT NULL,
	duration_ms BIGINT NOT NULL,
	fallback    BOOLEAN NOT NULL DEFAULT FALSE,
	success     BOOLEAN NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	routed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS routing_events_routed_at_idx ON routing_events (routed_at DESC);
`

// PostgresJournal persists routing events to a routing_events table.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to Postgres and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresJournal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, routingEventsSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresJournal{pool: pool}, nil
}

// Record inserts the event. Failures are logged, never propagated: the
// journal must not affect ack semantics.
func (j *PostgresJournal) Record(ctx context.Context, ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.RoutedAt.IsZero() {
		ev.RoutedAt = time.Now()
	}

	_, err := j.pool.Exec(ctx,
		`INSERT INTO routing_events
		 (id, job_id, platform, tier, queue, score, duration_ms, fallback, success, error, routed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.JobID, ev.Platform, ev.Tier, ev.Queue, ev.Score,
		ev.DurationMs, ev.Fallback, ev.Success, ev.Error, ev.RoutedAt)
	if err != nil {
		logging.Op().Warn("journal insert failed", "job_id", ev.JobID, "error", err)
	}
}

// Recent returns up to limit events, newest first.
func (j *PostgresJournal) Recent(limit int) []*Event {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := j.pool.Query(ctx,
		`SELECT id, job_id, platform, tier, queue, score, duration_ms, fallback, success, error, routed_at
		 FROM routing_events ORDER BY routed_at DESC LIMIT $1`, limit)
	if err != nil {
		logging.Op().Warn("journal query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Platform, &ev.Tier, &ev.Queue,
			&ev.Score, &ev.DurationMs, &ev.Fallback, &ev.Success, &ev.Error, &ev.RoutedAt); err != nil {
			logging.Op().Warn("journal scan failed", "error", err)
			return out
		}
		out = append(out, ev)
	}
	return out
}

// Close releases the connection pool.
func (j *PostgresJournal) Close() {
	j.pool.Close()
}
