package queue

import "github.com/Moha7763/queue-care-flow/internal/models"

const (
	ActionAdvance  = "advance"
	ActionPostpone = "postpone"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionRecall   = "recall"
)

var transitionMap = map[string][]string{
	ActionAdvance:  {models.StatusWaiting},
	ActionPostpone: {models.StatusCurrent},
	ActionComplete: {models.StatusCurrent},
	ActionCancel:   {models.StatusCurrent},
	ActionRecall:   {models.StatusPostponed},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// CreateStatus decides the initial status of a new ticket. An emergency
// walk-in takes the current slot when the lane has no current ticket;
// everything else, emergency classes included, starts waiting.
func CreateStatus(class models.EmergencyClass, laneHasCurrent bool) string {
	if class == models.ClassEmergency && !laneHasCurrent {
		return models.StatusCurrent
	}
	return models.StatusWaiting
}

// Reason codes surfaced with a successful postpone transition.
const (
	ReasonPostponed     = "postponed"
	ReasonPostponeLimit = "auto-cancelled: postponement limit reached"
)

type PostponeOutcome struct {
	Status string
	Count  int
	Reason string
}

// ApplyPostpone computes the result of postponing a ticket that has
// already been postponed count times. The postponement that would reach
// the limit cancels the ticket instead; that is still a successful
// transition, distinguished by the reason code.
func ApplyPostpone(count int) PostponeOutcome {
	next := count + 1
	if next >= models.PostponeLimit {
		return PostponeOutcome{Status: models.StatusCancelled, Count: next, Reason: ReasonPostponeLimit}
	}
	return PostponeOutcome{Status: models.StatusPostponed, Count: next, Reason: ReasonPostponed}
}
