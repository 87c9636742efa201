package queue

import (
	"testing"

	"github.com/Moha7763/queue-care-flow/internal/models"
)

func waiting(number int, class models.EmergencyClass) models.Ticket {
	return models.Ticket{
		TicketID:       "t" + string(rune('0'+number)),
		Number:         number,
		Status:         models.StatusWaiting,
		EmergencyClass: class,
	}
}

func numbers(tickets []models.Ticket) []int {
	out := make([]int, len(tickets))
	for i, ticket := range tickets {
		out[i] = ticket.Number
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrderInterleavesTwoRegularsPerEmergency(t *testing.T) {
	tickets := []models.Ticket{
		waiting(1, models.ClassNone),
		waiting(2, models.ClassNone),
		waiting(3, models.ClassUrgent),
		waiting(4, models.ClassNone),
		waiting(5, models.ClassCritical),
	}

	got := numbers(Order(tickets, 0))
	want := []int{1, 2, 3, 4, 5}
	if !equalInts(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrderEmergencyFirstAfterStreak(t *testing.T) {
	tickets := []models.Ticket{
		waiting(1, models.ClassNone),
		waiting(2, models.ClassUrgent),
	}

	// Two regulars already dispatched: the emergency goes next.
	got := numbers(Order(tickets, 2))
	want := []int{2, 1}
	if !equalInts(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestOrderOnlyOneClassPresent(t *testing.T) {
	regulars := []models.Ticket{waiting(3, models.ClassNone), waiting(1, models.ClassNone), waiting(2, models.ClassNone)}
	if got := numbers(Order(regulars, 0)); !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("regular-only order = %v", got)
	}

	emergencies := []models.Ticket{waiting(9, models.ClassCritical), waiting(7, models.ClassUrgent)}
	if got := numbers(Order(emergencies, 0)); !equalInts(got, []int{7, 9}) {
		t.Fatalf("emergency-only order = %v", got)
	}
}

func TestOrderFIFOWithinEmergencyPool(t *testing.T) {
	// Critical does not outrank urgent; the pool is FIFO by number.
	tickets := []models.Ticket{
		waiting(5, models.ClassCritical),
		waiting(3, models.ClassUrgent),
	}
	if got := numbers(Order(tickets, 2)); !equalInts(got, []int{3, 5}) {
		t.Fatalf("order = %v, want [3 5]", got)
	}
}

func TestOrderIgnoresNonWaitingTickets(t *testing.T) {
	tickets := []models.Ticket{
		waiting(1, models.ClassNone),
		{Number: 2, Status: models.StatusPostponed},
		{Number: 3, Status: models.StatusCompleted},
	}
	if got := numbers(Order(tickets, 0)); !equalInts(got, []int{1}) {
		t.Fatalf("order = %v, want [1]", got)
	}
}

func TestNextStreak(t *testing.T) {
	if got := NextStreak(0, models.ClassNone); got != 1 {
		t.Fatalf("regular after 0 = %d, want 1", got)
	}
	if got := NextStreak(1, models.ClassNone); got != 2 {
		t.Fatalf("regular after 1 = %d, want 2", got)
	}
	if got := NextStreak(2, models.ClassUrgent); got != 0 {
		t.Fatalf("emergency resets streak, got %d", got)
	}
}

func TestPosition(t *testing.T) {
	tickets := []models.Ticket{
		waiting(1, models.ClassNone),
		waiting(2, models.ClassNone),
		waiting(3, models.ClassUrgent),
	}
	tickets[2].TicketID = "urgent"

	if got := Position(tickets, 2, "urgent"); got != 1 {
		t.Fatalf("urgent position after streak = %d, want 1", got)
	}
	if got := Position(tickets, 0, "urgent"); got != 3 {
		t.Fatalf("urgent position at streak 0 = %d, want 3", got)
	}
	if got := Position(tickets, 0, "missing"); got != 0 {
		t.Fatalf("missing ticket position = %d, want 0", got)
	}
}
