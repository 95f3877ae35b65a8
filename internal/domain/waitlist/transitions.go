package waitlist

import (
	"fmt"

	"github.com/ehr/waitlist/internal/platform/apperr"
)

// ErrInvalidTransition is returned for a status change the lifecycle does
// not allow.
var ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", apperr.ErrConflict)

var transitions = map[Status][]Status{
	StatusWaiting:   {StatusContacted, StatusCancelled, StatusExpired},
	StatusContacted: {StatusScheduled, StatusCancelled},
}

// CanTransition reports whether an entry may move from one status to another.
// Scheduled, cancelled and expired are terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
