package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
)

type CreateTicketInput struct {
	RequestID       string
	Lane            models.Lane
	EmergencyClass  models.EmergencyClass
	EmergencyReason string
	PatientName     string
	PatientPhone    string
	Date            string
	CreatedAt       time.Time
}

type TicketActionInput struct {
	TicketID   string
	OccurredAt time.Time
}

// TicketStatus is the self-service view returned for an access token.
type TicketStatus struct {
	TicketID       string      `json:"ticket_id"`
	Lane           models.Lane `json:"lane"`
	Number         int         `json:"ticket_number"`
	Status         string      `json:"status"`
	PostponeCount  int         `json:"postpone_count"`
	Position       int         `json:"position"`
	CurrentServing int         `json:"current_serving"`
	TotalWaiting   int         `json:"total_waiting"`
}

// LaneSnapshot is what the display board and operator consoles render:
// the current ticket, the waiting queue in serving order, and the
// postponed pool.
type LaneSnapshot struct {
	Lane      models.Lane     `json:"lane"`
	Current   *models.Ticket  `json:"current,omitempty"`
	Waiting   []models.Ticket `json:"waiting"`
	Postponed []models.Ticket `json:"postponed"`
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Lane      models.Lane     `json:"lane,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type FanoutOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

// TicketStore is the durable collaborator behind the queue core. Every
// mutation on an existing ticket is a conditional write on the expected
// prior status; a failed precondition surfaces as ErrInvalidState or
// ErrConflict, never as a silent overwrite.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	AdvanceLane(ctx context.Context, lane models.Lane, date string, now time.Time) (models.Ticket, error)
	PostponeTicket(ctx context.Context, input TicketActionInput) (models.Ticket, string, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	RecallTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	ResetDay(ctx context.Context, date string) error
	StatusByToken(ctx context.Context, token string) (TicketStatus, error)
	SnapshotLanes(ctx context.Context, date string) ([]LaneSnapshot, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}

// EventLog is the fan-out reconciliation surface: the relay drains the
// outbox from a persisted offset so observers converge even when a push
// is dropped.
type EventLog interface {
	ListEventsSince(ctx context.Context, offset FanoutOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context) (FanoutOffset, error)
	UpdateOffset(ctx context.Context, offset FanoutOffset) error
}

// Outbox event types.
const (
	EventTicketCreated   = "ticket.created"
	EventTicketCalled    = "ticket.called"
	EventTicketPostponed = "ticket.postponed"
	EventTicketCompleted = "ticket.completed"
	EventTicketCancelled = "ticket.cancelled"
	EventTicketRecalled  = "ticket.recalled"
	EventQueueReset      = "queue.reset"
)
