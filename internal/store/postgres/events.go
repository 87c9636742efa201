package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ticketEventPayload is what observers receive. The access token is
// deliberately absent: the outbox feeds public displays.
type ticketEventPayload struct {
	TicketID       string                `json:"ticket_id"`
	Lane           models.Lane           `json:"lane"`
	Number         int                   `json:"ticket_number"`
	Status         string                `json:"status"`
	PostponeCount  int                   `json:"postpone_count"`
	EmergencyClass models.EmergencyClass `json:"emergency_class"`
	Date           string                `json:"date"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload, err := json.Marshal(ticketEventPayload{
		TicketID:       ticket.TicketID,
		Lane:           ticket.Lane,
		Number:         ticket.Number,
		Status:         ticket.Status,
		PostponeCount:  ticket.PostponeCount,
		EmergencyClass: ticket.EmergencyClass,
		Date:           ticket.Date,
		CompletedAt:    ticket.CompletedAt,
	})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, lane, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), eventType, ticket.Lane, payload, time.Now().UTC())
	return err
}

func insertResetEvent(ctx context.Context, tx pgx.Tx, date string) error {
	payload, err := json.Marshal(map[string]string{"date": date})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, lane, payload_json, created_at)
		VALUES ($1, $2, NULL, $3, $4)
	`, uuid.NewString(), store.EventQueueReset, payload, time.Now().UTC())
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, lane, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC, event_id ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) ListEventsSince(ctx context.Context, offset store.FanoutOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	lastID := offset.LastEventID
	if lastID == "" {
		lastID = uuid.Nil.String()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, lane, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2::uuid)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, offset.LastEventTime, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) GetOffset(ctx context.Context) (store.FanoutOffset, error) {
	var offset store.FanoutOffset
	row := s.pool.QueryRow(ctx, `SELECT last_event_time, last_event_id FROM fanout_offset WHERE id = 1`)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.FanoutOffset{}, nil
		}
		return store.FanoutOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, offset store.FanoutOffset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fanout_offset (id, last_event_time, last_event_id)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET last_event_time = $1, last_event_id = $2
	`, offset.LastEventTime, offset.LastEventID)
	return err
}

func collectEvents(rows pgx.Rows) ([]store.OutboxEvent, error) {
	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var laneNull sql.NullString
		if err := rows.Scan(&event.EventID, &event.Type, &laneNull, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		if laneNull.Valid {
			event.Lane = models.Lane(laneNull.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
