package queue

import (
	"sort"

	"github.com/Moha7763/queue-care-flow/internal/models"
)

// RegularCadence is how many regular tickets are served between
// emergency-class tickets when both classes are waiting.
const RegularCadence = 2

// Order computes the serving order for a lane's waiting tickets.
// Tickets are split into regular and emergency-class pools, each FIFO by
// ticket number, then merged: two regulars, one emergency, repeating.
// regularStreak is how many regulars the lane has dispatched since the
// last emergency-class ticket, so previews line up with what advance
// will actually do. The result is advisory and mutates nothing.
func Order(tickets []models.Ticket, regularStreak int) []models.Ticket {
	var regular, emergency []models.Ticket
	for _, ticket := range tickets {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if ticket.EmergencyClass.IsEmergency() {
			emergency = append(emergency, ticket)
		} else {
			regular = append(regular, ticket)
		}
	}
	sort.Slice(regular, func(i, j int) bool { return regular[i].Number < regular[j].Number })
	sort.Slice(emergency, func(i, j int) bool { return emergency[i].Number < emergency[j].Number })

	ordered := make([]models.Ticket, 0, len(regular)+len(emergency))
	streak := regularStreak
	for len(regular) > 0 || len(emergency) > 0 {
		takeEmergency := len(emergency) > 0 && (streak >= RegularCadence || len(regular) == 0)
		if takeEmergency {
			ordered = append(ordered, emergency[0])
			emergency = emergency[1:]
			streak = 0
			continue
		}
		ordered = append(ordered, regular[0])
		regular = regular[1:]
		streak++
	}
	return ordered
}

// NextStreak advances the cadence counter after dispatching a ticket.
func NextStreak(regularStreak int, class models.EmergencyClass) int {
	if class.IsEmergency() {
		return 0
	}
	return regularStreak + 1
}

// Position returns the 1-based rank of ticketID in the computed order,
// or 0 when the ticket is not in the waiting set.
func Position(tickets []models.Ticket, regularStreak int, ticketID string) int {
	for i, ticket := range Order(tickets, regularStreak) {
		if ticket.TicketID == ticketID {
			return i + 1
		}
	}
	return 0
}
