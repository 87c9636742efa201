// Package fanout moves committed queue changes to display clients. The
// outbox table is the source of truth; redis pub/sub only nudges the
// relay so observers see changes without waiting for the next poll. A
// lost nudge costs latency, never an event.
package fanout

import (
	"context"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher sends a best-effort nudge after a mutation commits.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewPublisher(client *redis.Client, channel string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, channel: channel, logger: logger}
}

func (p *Publisher) Nudge(ctx context.Context) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Publish(ctx, p.channel, "drain").Err(); err != nil {
		p.logger.Warn("fanout nudge failed", zap.Error(err))
	}
}

// NotifyingStore decorates a TicketStore so every successful mutation
// nudges the relay. Reads pass through untouched.
type NotifyingStore struct {
	store.TicketStore
	publisher *Publisher
}

func NewNotifyingStore(inner store.TicketStore, publisher *Publisher) *NotifyingStore {
	return &NotifyingStore{TicketStore: inner, publisher: publisher}
}

func (s *NotifyingStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	ticket, err := s.TicketStore.CreateTicket(ctx, input)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return ticket, err
}

func (s *NotifyingStore) AdvanceLane(ctx context.Context, lane models.Lane, date string, now time.Time) (models.Ticket, error) {
	ticket, err := s.TicketStore.AdvanceLane(ctx, lane, date, now)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return ticket, err
}

func (s *NotifyingStore) PostponeTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, string, error) {
	ticket, reason, err := s.TicketStore.PostponeTicket(ctx, input)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return ticket, reason, err
}

func (s *NotifyingStore) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ticket, err := s.TicketStore.CompleteTicket(ctx, input)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return ticket, err
}

func (s *NotifyingStore) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ticket, err := s.TicketStore.CancelTicket(ctx, input)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return ticket, err
}

func (s *NotifyingStore) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ticket, err := s.TicketStore.RecallTicket(ctx, input)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return ticket, err
}

func (s *NotifyingStore) ResetDay(ctx context.Context, date string) error {
	err := s.TicketStore.ResetDay(ctx, date)
	if err == nil {
		s.publisher.Nudge(ctx)
	}
	return err
}
