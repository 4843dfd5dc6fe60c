package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"ForecastPool/internal/engine"
)

// EventRow is one row of event_log.events.
type EventRow struct {
	Sequence  int64
	EventType string
	MarketID  string
	Actor     string
	Timestamp int64
	Payload   []byte // JSON-encoded event payload
}

// rowFromOutput flattens an engine output into its storage row.
func rowFromOutput(out engine.Output) (EventRow, error) {
	payload, err := json.Marshal(out.Envelope.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload for sequence %d: %w", out.Envelope.Sequence, err)
	}
	return EventRow{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.Type.String(),
		MarketID:  out.Envelope.MarketID.String(),
		Actor:     out.Envelope.Actor.String(),
		Timestamp: out.Envelope.Timestamp,
		Payload:   payload,
	}, nil
}

// EventLogWriter batch-writes event rows to Postgres with multi-row
// INSERT. Writes are idempotent on sequence, so a retried batch that
// partially landed is safe to resend whole.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of rows inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, market_id, actor, timestamp, payload)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, e.Sequence, e.EventType, e.MarketID, e.Actor, e.Timestamp, e.Payload)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, 0 when empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
