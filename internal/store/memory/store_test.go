package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/store"
)

func fixedSeed(n int) Options {
	return Options{SeedFunc: func() int { return n }}
}

func mustCreate(t *testing.T, s *Store, lane models.Lane, date string, class models.EmergencyClass) models.Ticket {
	t.Helper()
	ticket, err := s.CreateTicket(context.Background(), store.CreateTicketInput{
		Lane:           lane,
		EmergencyClass: class,
		Date:           date,
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func TestCreateTicketNumbersAreSequentialFromSeed(t *testing.T) {
	s := NewStore(fixedSeed(10))
	date := "2026-08-27"

	for i := 0; i < 3; i++ {
		ticket := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
		if want := 10 + i; ticket.Number != want {
			t.Fatalf("ticket %d: number = %d, want %d", i, ticket.Number, want)
		}
	}

	// Lanes number independently.
	other := mustCreate(t, s, models.LaneMRI, date, models.ClassNone)
	if other.Number != 10 {
		t.Fatalf("mri first number = %d, want 10", other.Number)
	}
}

func TestCreateTicketConcurrentNumbersAreUnique(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	const n = 50

	var wg sync.WaitGroup
	numbers := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := s.CreateTicket(context.Background(), store.CreateTicketInput{
				Lane: models.LaneUltrasound,
				Date: date,
			})
			if err != nil {
				t.Errorf("CreateTicket: %v", err)
				return
			}
			numbers <- ticket.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate ticket number %d", number)
		}
		seen[number] = true
	}
	if len(seen) != n {
		t.Fatalf("issued %d distinct numbers, want %d", len(seen), n)
	}
}

func TestCreateTicketIdempotentByRequestID(t *testing.T) {
	s := NewStore(fixedSeed(1))
	input := store.CreateTicketInput{
		RequestID: "req-1",
		Lane:      models.LaneXRay,
		Date:      "2026-08-27",
	}

	first, err := s.CreateTicket(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	second, err := s.CreateTicket(context.Background(), input)
	if err != nil {
		t.Fatalf("retry CreateTicket: %v", err)
	}
	if second.TicketID != first.TicketID || second.Number != first.Number {
		t.Fatalf("retry returned a different ticket: %+v vs %+v", second, first)
	}
}

func TestEmergencyWalkInTakesFreeCurrentSlot(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"

	emergency := mustCreate(t, s, models.LaneCTScan, date, models.ClassEmergency)
	if emergency.Status != models.StatusCurrent {
		t.Fatalf("emergency with free slot: status = %q, want current", emergency.Status)
	}

	// Slot occupied now: the next emergency waits.
	second := mustCreate(t, s, models.LaneCTScan, date, models.ClassEmergency)
	if second.Status != models.StatusWaiting {
		t.Fatalf("emergency with occupied slot: status = %q, want waiting", second.Status)
	}
}

func TestAdvanceInterleavesTwoRegularsPerEmergency(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	classes := []models.EmergencyClass{
		models.ClassNone, models.ClassNone, models.ClassUrgent,
		models.ClassNone, models.ClassCritical,
	}
	for _, class := range classes {
		mustCreate(t, s, models.LaneXRay, date, class)
	}

	// Numbers 1..5 issued in creation order; urgent is 3, critical is 5.
	wantOrder := []int{1, 2, 3, 4, 5}
	for i, want := range wantOrder {
		ticket, err := s.AdvanceLane(ctx, models.LaneXRay, date, time.Now())
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if ticket.Number != want {
			t.Fatalf("advance %d: got number %d, want %d", i, ticket.Number, want)
		}
	}

	if _, err := s.AdvanceLane(ctx, models.LaneXRay, date, time.Now()); !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("advance on drained lane: err = %v, want ErrNoTicket", err)
	}
}

func TestAdvanceCompletesPreviousCurrent(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	first := mustCreate(t, s, models.LaneMRI, date, models.ClassNone)
	mustCreate(t, s, models.LaneMRI, date, models.ClassNone)

	if _, err := s.AdvanceLane(ctx, models.LaneMRI, date, time.Now()); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	if _, err := s.AdvanceLane(ctx, models.LaneMRI, date, time.Now()); err != nil {
		t.Fatalf("second advance: %v", err)
	}

	got, err := s.GetTicket(ctx, first.TicketID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("displaced current: status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("displaced current: completed_at not set")
	}
}

func TestPostponeReturnsToPoolUntilLimit(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	ticket := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)

	for i := 0; i < models.PostponeLimit; i++ {
		if _, err := s.AdvanceLane(ctx, models.LaneXRay, date, time.Now()); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		got, reason, err := s.PostponeTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
		if err != nil {
			t.Fatalf("postpone %d: %v", i, err)
		}
		last := i == models.PostponeLimit-1
		if last {
			if got.Status != models.StatusCancelled {
				t.Fatalf("postpone %d: status = %q, want cancelled", i, got.Status)
			}
			if reason == "" || got.PostponeCount != models.PostponeLimit {
				t.Fatalf("postpone %d: reason = %q, count = %d", i, reason, got.PostponeCount)
			}
			return
		}
		if got.Status != models.StatusPostponed || got.PostponeCount != i+1 {
			t.Fatalf("postpone %d: status = %q count = %d", i, got.Status, got.PostponeCount)
		}
		// Recall so the next advance can pick it up again.
		if _, err := s.RecallTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID}); err != nil {
			t.Fatalf("recall %d: %v", i, err)
		}
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	ticket := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
	if _, err := s.AdvanceLane(ctx, models.LaneXRay, date, time.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	first, err := s.CompleteTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := s.CompleteTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
	if err != nil {
		t.Fatalf("retry complete: %v", err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("retry moved completed_at: %v vs %v", second.CompletedAt, first.CompletedAt)
	}

	// Cancel after completion is a real state error, not idempotence.
	if _, err := s.CancelTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("cancel completed: err = %v, want ErrInvalidState", err)
	}
}

func TestRecallRequiresPostponed(t *testing.T) {
	s := NewStore(fixedSeed(1))
	ticket := mustCreate(t, s, models.LaneXRay, "2026-08-27", models.ClassNone)

	if _, err := s.RecallTicket(context.Background(), store.TicketActionInput{TicketID: ticket.TicketID}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("recall waiting ticket: err = %v, want ErrInvalidState", err)
	}
}

func TestResetDayClearsTicketsAndRegeneratesSeeds(t *testing.T) {
	seeds := []int{7, 7, 7, 7, 23, 23, 23, 23}
	i := 0
	s := NewStore(Options{SeedFunc: func() int {
		seed := seeds[i%len(seeds)]
		i++
		return seed
	}})
	date := "2026-08-27"
	ctx := context.Background()

	ticket := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
	if ticket.Number != 7 {
		t.Fatalf("pre-reset number = %d, want 7", ticket.Number)
	}

	if err := s.ResetDay(ctx, date); err != nil {
		t.Fatalf("ResetDay: %v", err)
	}
	if _, err := s.GetTicket(ctx, ticket.TicketID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("ticket survived reset: err = %v", err)
	}

	fresh := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
	if fresh.Number != 23 {
		t.Fatalf("post-reset number = %d, want regenerated seed 23", fresh.Number)
	}

	settings := s.DaySettings(date)
	if len(settings.StartNumbers) != len(models.Lanes()) {
		t.Fatalf("reset seeded %d lanes, want %d", len(settings.StartNumbers), len(models.Lanes()))
	}
	for lane, seed := range settings.StartNumbers {
		if seed < models.StartNumberMin || seed > models.StartNumberMax {
			t.Fatalf("lane %s seed %d out of bounds", lane, seed)
		}
	}
}

func TestCreateTicketUnknownLane(t *testing.T) {
	s := NewStore(fixedSeed(1))
	_, err := s.CreateTicket(context.Background(), store.CreateTicketInput{Lane: "dental", Date: "2026-08-27"})
	if !errors.Is(err, store.ErrUnknownLane) {
		t.Fatalf("err = %v, want ErrUnknownLane", err)
	}
}

func TestStatusByToken(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	first := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
	second := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)

	status, err := s.StatusByToken(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("StatusByToken: %v", err)
	}
	if status.Position != 2 || status.TotalWaiting != 2 {
		t.Fatalf("position = %d total = %d, want 2/2", status.Position, status.TotalWaiting)
	}

	if _, err := s.AdvanceLane(ctx, models.LaneXRay, date, time.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	status, err = s.StatusByToken(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("StatusByToken after advance: %v", err)
	}
	if status.Position != 1 || status.CurrentServing != first.Number {
		t.Fatalf("position = %d serving = %d, want 1/%d", status.Position, status.CurrentServing, first.Number)
	}

	if _, err := s.StatusByToken(ctx, "no-such-token"); !errors.Is(err, store.ErrTokenNotFound) {
		t.Fatalf("unknown token: err = %v, want ErrTokenNotFound", err)
	}
}

func TestStoreNeverLeaksAccessToken(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	ticket := mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
	if ticket.AccessToken == "" {
		t.Fatal("CreateTicket must return the access token")
	}

	got, err := s.GetTicket(ctx, ticket.TicketID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.AccessToken != "" {
		t.Fatal("GetTicket leaked the access token")
	}

	snapshots, err := s.SnapshotLanes(ctx, date)
	if err != nil {
		t.Fatalf("SnapshotLanes: %v", err)
	}
	for _, snapshot := range snapshots {
		for _, waiting := range snapshot.Waiting {
			if waiting.AccessToken != "" {
				t.Fatal("SnapshotLanes leaked an access token")
			}
		}
	}
}

func TestEventLogOffsetDraining(t *testing.T) {
	s := NewStore(fixedSeed(1))
	date := "2026-08-27"
	ctx := context.Background()

	mustCreate(t, s, models.LaneXRay, date, models.ClassNone)
	mustCreate(t, s, models.LaneXRay, date, models.ClassNone)

	offset, err := s.GetOffset(ctx)
	if err != nil {
		t.Fatalf("GetOffset: %v", err)
	}
	events, err := s.ListEventsSince(ctx, offset, 10)
	if err != nil {
		t.Fatalf("ListEventsSince: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	last := events[len(events)-1]
	offset = store.FanoutOffset{LastEventTime: last.CreatedAt, LastEventID: last.EventID}
	if err := s.UpdateOffset(ctx, offset); err != nil {
		t.Fatalf("UpdateOffset: %v", err)
	}

	events, err = s.ListEventsSince(ctx, offset, 10)
	if err != nil {
		t.Fatalf("ListEventsSince after offset: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("drained log returned %d events", len(events))
	}

	mustCreate(t, s, models.LaneMRI, date, models.ClassNone)
	events, err = s.ListEventsSince(ctx, offset, 10)
	if err != nil {
		t.Fatalf("ListEventsSince after new event: %v", err)
	}
	if len(events) != 1 || events[0].Type != store.EventTicketCreated {
		t.Fatalf("got %+v, want one ticket.created", events)
	}
}
