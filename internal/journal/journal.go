// Package journal archives every feed event into postgres: the
// immutable, append-only record external participants can read. It is
// an archive, not the source of truth; the core never reads it back
// for its own decisions.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

// Journal writes events to an append-only table.
type Journal struct {
	db *sql.DB
}

// New creates a journal on the given database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Init creates the events table if it does not exist.
func (j *Journal) Init(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS events (
			id         UUID PRIMARY KEY,
			type       TEXT NOT NULL,
			log_offset BIGINT NOT NULL,
			occurred   TIMESTAMPTZ NOT NULL,
			payload    JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

// Publish appends the event. Implements messaging.Publisher so the
// journal can sit in the publish fanout.
func (j *Journal) Publish(ctx context.Context, event messaging.Event) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, type, log_offset, occurred, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Type, event.Offset, event.Timestamp, []byte(event.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Events returns up to limit archived events with offset >= from, in
// offset order.
func (j *Journal) Events(ctx context.Context, from uint64, limit int) ([]messaging.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, type, log_offset, occurred, payload
		 FROM events WHERE log_offset >= $1 ORDER BY log_offset ASC LIMIT $2`,
		from, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []messaging.Event
	for rows.Next() {
		var event messaging.Event
		var payload []byte
		if err := rows.Scan(&event.ID, &event.Type, &event.Offset, &event.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Data = payload
		events = append(events, event)
	}
	return events, rows.Err()
}
