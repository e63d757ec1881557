package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepscout/deepscout/pkg/events"
)

// EventStore persists bus envelopes for catchup. It implements
// events.History over the events table.
type EventStore struct {
	db *Client
}

// NewEventStore creates an event store over client.
func NewEventStore(client *Client) *EventStore {
	return &EventStore{db: client}
}

// StoreEvent records env under channel. ON CONFLICT DO NOTHING makes retried
// publishes idempotent on (channel, seq).
func (s *EventStore) StoreEvent(ctx context.Context, channel string, env events.Envelope) error {
	payload := env.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.DB().ExecContext(ctx,
		`INSERT INTO events (channel, seq, event_type, batch_id, session_id, ts, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (channel, seq) DO NOTHING`,
		channel, int64(env.Seq), env.Type, env.BatchID, env.SessionID, env.Timestamp, []byte(payload))
	if err != nil {
		return fmt.Errorf("insert event channel=%s seq=%d: %w", channel, env.Seq, err)
	}
	return nil
}

// EventsAfter returns envelopes on channel with Seq > afterSeq in seq order.
// No LIMIT here: the connection manager caps what it forwards and signals
// overflow to the client.
func (s *EventStore) EventsAfter(ctx context.Context, channel string, afterSeq uint64) ([]events.Envelope, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT seq, event_type, batch_id, session_id, ts, payload
		 FROM events WHERE channel = $1 AND seq > $2 ORDER BY seq ASC`,
		channel, int64(afterSeq))
	if err != nil {
		return nil, fmt.Errorf("query events channel=%s: %w", channel, err)
	}
	defer rows.Close()

	var out []events.Envelope
	for rows.Next() {
		var (
			seq     int64
			env     events.Envelope
			payload []byte
		)
		if err := rows.Scan(&seq, &env.Type, &env.BatchID, &env.SessionID, &env.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		env.Seq = uint64(seq)
		env.Payload = json.RawMessage(payload)
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

// DeleteChannel removes all stored events for channel. Called when a batch is
// deleted so stale history cannot be replayed.
func (s *EventStore) DeleteChannel(ctx context.Context, channel string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM events WHERE channel = $1`, channel)
	if err != nil {
		return fmt.Errorf("delete events channel=%s: %w", channel, err)
	}
	return nil
}
