// Package memory implements the ticket store against process memory.
// It mirrors the postgres implementation's semantics exactly, which
// makes the queue's invariants testable without a database and backs
// local single-process runs.
package memory

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/queue"
	"github.com/Moha7763/queue-care-flow/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	tickets   map[string]*models.Ticket
	byToken   map[string]string
	byRequest map[string]string
	seeds     map[string]map[models.Lane]int
	counters  map[string]map[models.Lane]int
	streaks   map[string]map[models.Lane]int
	events    []store.OutboxEvent
	offset    store.FanoutOffset
	seedFn    func() int
}

type Options struct {
	// SeedFunc overrides the random daily start number; tests inject a
	// deterministic one.
	SeedFunc func() int
}

func NewStore(options Options) *Store {
	seedFn := options.SeedFunc
	if seedFn == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		seedFn = func() int {
			return models.StartNumberMin + rng.Intn(models.StartNumberMax-models.StartNumberMin+1)
		}
	}
	return &Store{
		tickets:   make(map[string]*models.Ticket),
		byToken:   make(map[string]string),
		byRequest: make(map[string]string),
		seeds:     make(map[string]map[models.Lane]int),
		counters:  make(map[string]map[models.Lane]int),
		streaks:   make(map[string]map[models.Lane]int),
		seedFn:    seedFn,
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if _, ok := models.ParseLane(string(input.Lane)); !ok {
		return models.Ticket{}, store.ErrUnknownLane
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if id, ok := s.byRequest[input.RequestID]; ok {
			return *s.tickets[id], nil
		}
	}

	s.ensureDaySettings(input.Date)
	number := s.nextTicketNumber(input.Lane, input.Date)

	class := input.EmergencyClass
	if class == "" {
		class = models.ClassNone
	}
	status := queue.CreateStatus(class, s.currentTicket(input.Lane, input.Date) != nil)

	token, err := queue.NewAccessToken()
	if err != nil {
		return models.Ticket{}, err
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ticket := models.Ticket{
		TicketID:        uuid.NewString(),
		Lane:            input.Lane,
		Number:          number,
		Status:          status,
		EmergencyClass:  class,
		EmergencyReason: input.EmergencyReason,
		PatientName:     input.PatientName,
		PatientPhone:    input.PatientPhone,
		Date:            input.Date,
		CreatedAt:       createdAt,
		AccessToken:     token,
	}
	s.tickets[ticket.TicketID] = &ticket
	s.byToken[token] = ticket.TicketID
	if input.RequestID != "" {
		s.byRequest[input.RequestID] = ticket.TicketID
	}
	s.appendEvent(store.EventTicketCreated, ticket)
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return stripped(*ticket), nil
}

func (s *Store) AdvanceLane(ctx context.Context, lane models.Lane, date string, now time.Time) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.currentTicket(lane, date); current != nil {
		completedAt := now
		current.Status = models.StatusCompleted
		current.CompletedAt = &completedAt
		s.appendEvent(store.EventTicketCompleted, *current)
	}

	waiting := s.laneTickets(lane, date, models.StatusWaiting)
	if len(waiting) == 0 {
		return models.Ticket{}, store.ErrNoTicket
	}

	streak := s.streaks[date][lane]
	head := queue.Order(waiting, streak)[0]
	promoted := s.tickets[head.TicketID]
	promoted.Status = models.StatusCurrent
	s.setStreak(lane, date, queue.NextStreak(streak, promoted.EmergencyClass))
	s.appendEvent(store.EventTicketCalled, *promoted)
	return stripped(*promoted), nil
}

func (s *Store) PostponeTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, "", store.ErrTicketNotFound
	}
	if ticket.Status != models.StatusCurrent {
		return models.Ticket{}, "", store.ErrInvalidState
	}

	outcome := queue.ApplyPostpone(ticket.PostponeCount)
	ticket.Status = outcome.Status
	ticket.PostponeCount = outcome.Count
	eventType := store.EventTicketPostponed
	if outcome.Status == models.StatusCancelled {
		eventType = store.EventTicketCancelled
	}
	s.appendEvent(eventType, *ticket)
	return stripped(*ticket), outcome.Reason, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.finishTicket(input, models.StatusCompleted, store.EventTicketCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.finishTicket(input, models.StatusCancelled, store.EventTicketCancelled)
}

func (s *Store) finishTicket(input store.TicketActionInput, target, eventType string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if ticket.Status == target {
		return stripped(*ticket), nil
	}
	if ticket.Status != models.StatusCurrent {
		return models.Ticket{}, store.ErrInvalidState
	}
	ticket.Status = target
	if target == models.StatusCompleted && ticket.CompletedAt == nil {
		completedAt := input.OccurredAt
		if completedAt.IsZero() {
			completedAt = time.Now().UTC()
		}
		ticket.CompletedAt = &completedAt
	}
	s.appendEvent(eventType, *ticket)
	return stripped(*ticket), nil
}

func (s *Store) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if ticket.Status != models.StatusPostponed {
		return models.Ticket{}, store.ErrInvalidState
	}
	ticket.Status = models.StatusWaiting
	s.appendEvent(store.EventTicketRecalled, *ticket)
	return stripped(*ticket), nil
}

func (s *Store) ResetDay(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ticket := range s.tickets {
		if ticket.Date != date {
			continue
		}
		delete(s.byToken, ticket.AccessToken)
		delete(s.tickets, id)
	}
	for requestID, id := range s.byRequest {
		if _, ok := s.tickets[id]; !ok {
			delete(s.byRequest, requestID)
		}
	}
	delete(s.seeds, date)
	delete(s.counters, date)
	delete(s.streaks, date)
	s.ensureDaySettings(date)

	payload, _ := json.Marshal(map[string]string{"date": date})
	s.events = append(s.events, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      store.EventQueueReset,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Store) StatusByToken(ctx context.Context, token string) (store.TicketStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return store.TicketStatus{}, store.ErrTokenNotFound
	}
	ticket := s.tickets[id]

	waiting := s.laneTickets(ticket.Lane, ticket.Date, models.StatusWaiting)
	status := store.TicketStatus{
		TicketID:      ticket.TicketID,
		Lane:          ticket.Lane,
		Number:        ticket.Number,
		Status:        ticket.Status,
		PostponeCount: ticket.PostponeCount,
		TotalWaiting:  len(waiting),
	}
	if ticket.Status == models.StatusWaiting {
		status.Position = queue.Position(waiting, s.streaks[ticket.Date][ticket.Lane], ticket.TicketID)
	}
	if current := s.currentTicket(ticket.Lane, ticket.Date); current != nil {
		status.CurrentServing = current.Number
	}
	return status, nil
}

func (s *Store) SnapshotLanes(ctx context.Context, date string) ([]store.LaneSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]store.LaneSnapshot, 0, len(models.Lanes()))
	for _, lane := range models.Lanes() {
		snapshot := store.LaneSnapshot{Lane: lane, Waiting: []models.Ticket{}, Postponed: []models.Ticket{}}
		var active []models.Ticket
		for _, ticket := range s.tickets {
			if ticket.Lane != lane || ticket.Date != date {
				continue
			}
			switch ticket.Status {
			case models.StatusCurrent:
				current := stripped(*ticket)
				snapshot.Current = &current
			case models.StatusWaiting:
				active = append(active, stripped(*ticket))
			case models.StatusPostponed:
				snapshot.Postponed = append(snapshot.Postponed, stripped(*ticket))
			}
		}
		snapshot.Waiting = queue.Order(active, s.streaks[date][lane])
		sort.Slice(snapshot.Postponed, func(i, j int) bool {
			return snapshot.Postponed[i].Number < snapshot.Postponed[j].Number
		})
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var events []store.OutboxEvent
	for _, event := range s.events {
		if !event.CreatedAt.After(after) {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) ListEventsSince(ctx context.Context, offset store.FanoutOffset, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if offset.LastEventID != "" {
		for i, event := range s.events {
			if event.EventID == offset.LastEventID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	return append([]store.OutboxEvent(nil), s.events[start:end]...), nil
}

func (s *Store) GetOffset(ctx context.Context) (store.FanoutOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, offset store.FanoutOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
	return nil
}

// DaySettings exposes the generated seeds; tests assert their bounds
// and that reset regenerates them.
func (s *Store) DaySettings(date string) models.DaySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := models.DaySettings{Date: date, StartNumbers: make(map[models.Lane]int)}
	for lane, seed := range s.seeds[date] {
		settings.StartNumbers[lane] = seed
	}
	return settings
}

func (s *Store) ensureDaySettings(date string) {
	if _, ok := s.seeds[date]; ok {
		return
	}
	seeds := make(map[models.Lane]int, len(models.Lanes()))
	for _, lane := range models.Lanes() {
		seeds[lane] = s.seedFn()
	}
	s.seeds[date] = seeds
}

func (s *Store) nextTicketNumber(lane models.Lane, date string) int {
	counters, ok := s.counters[date]
	if !ok {
		counters = make(map[models.Lane]int)
		s.counters[date] = counters
	}
	last, ok := counters[lane]
	if !ok {
		last = s.seeds[date][lane]
	} else {
		last++
	}
	counters[lane] = last
	return last
}

func (s *Store) setStreak(lane models.Lane, date string, streak int) {
	streaks, ok := s.streaks[date]
	if !ok {
		streaks = make(map[models.Lane]int)
		s.streaks[date] = streaks
	}
	streaks[lane] = streak
}

func (s *Store) currentTicket(lane models.Lane, date string) *models.Ticket {
	for _, ticket := range s.tickets {
		if ticket.Lane == lane && ticket.Date == date && ticket.Status == models.StatusCurrent {
			return ticket
		}
	}
	return nil
}

func (s *Store) laneTickets(lane models.Lane, date, status string) []models.Ticket {
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Lane == lane && ticket.Date == date && ticket.Status == status {
			tickets = append(tickets, *ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })
	return tickets
}

func (s *Store) appendEvent(eventType string, ticket models.Ticket) {
	payload, _ := json.Marshal(map[string]interface{}{
		"ticket_id":       ticket.TicketID,
		"lane":            ticket.Lane,
		"ticket_number":   ticket.Number,
		"status":          ticket.Status,
		"postpone_count":  ticket.PostponeCount,
		"emergency_class": ticket.EmergencyClass,
		"date":            ticket.Date,
	})
	s.events = append(s.events, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Lane:      ticket.Lane,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

func stripped(ticket models.Ticket) models.Ticket {
	ticket.AccessToken = ""
	return ticket
}
