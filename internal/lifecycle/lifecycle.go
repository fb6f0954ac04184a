// Package lifecycle defines the legal status transitions of a queue object.
//
//	RECEIVED   -> VALIDATING
//	VALIDATING -> INVALID | ENRICHING
//	ENRICHING  -> PROCESSING
//	PROCESSING -> COMPLETE
//
// INVALID and COMPLETE are terminal. Reaching COMPLETE yields SUCCESS and
// reaching INVALID yields FAILURE; non-terminal statuses carry no outcome.
package lifecycle

import (
	"errors"
	"fmt"

	"paydash/internal/models"
)

var (
	ErrTerminal          = errors.New("status is terminal")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrUnknownStatus     = errors.New("unknown status")
)

var transitions = map[models.Status][]models.Status{
	models.StatusReceived:   {models.StatusValidating},
	models.StatusValidating: {models.StatusInvalid, models.StatusEnriching},
	models.StatusEnriching:  {models.StatusProcessing},
	models.StatusProcessing: {models.StatusComplete},
	models.StatusInvalid:    {},
	models.StatusComplete:   {},
}

// NextStatuses returns the legal successors of current. Terminal and unknown statuses have none.
func NextStatuses(current models.Status) []models.Status {
	next := transitions[current]
	out := make([]models.Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether no transition may leave s.
func IsTerminal(s models.Status) bool {
	return s == models.StatusInvalid || s == models.StatusComplete
}

// OutcomeFor returns the outcome implied by reaching s.
func OutcomeFor(s models.Status) models.Outcome {
	switch s {
	case models.StatusComplete:
		return models.OutcomeSuccess
	case models.StatusInvalid:
		return models.OutcomeFailure
	}
	return models.OutcomeNone
}

// CanTransition reports whether to is a legal successor of from.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Advance picks one successor of current. pick receives the number of
// candidates and returns the chosen index; it is only called when more than one exists.
func Advance(current models.Status, pick func(n int) int) (models.Status, models.Outcome, error) {
	if !current.Valid() {
		return "", models.OutcomeNone, fmt.Errorf("%w: %q", ErrUnknownStatus, current)
	}
	next := transitions[current]
	if len(next) == 0 {
		return "", models.OutcomeNone, fmt.Errorf("%w: %s", ErrTerminal, current)
	}
	chosen := next[0]
	if len(next) > 1 {
		i := pick(len(next))
		if i < 0 || i >= len(next) {
			i = 0
		}
		chosen = next[i]
	}
	return chosen, OutcomeFor(chosen), nil
}

// ValidWalk checks that statuses, oldest first, start at RECEIVED and follow the transition table.
func ValidWalk(statuses []models.Status) error {
	if len(statuses) == 0 {
		return nil
	}
	if statuses[0] != models.StatusReceived {
		return fmt.Errorf("%w: walk starts at %s", ErrIllegalTransition, statuses[0])
	}
	for i := 1; i < len(statuses); i++ {
		if !CanTransition(statuses[i-1], statuses[i]) {
			return fmt.Errorf("%w: %s -> %s at step %d", ErrIllegalTransition, statuses[i-1], statuses[i], i)
		}
	}
	return nil
}

// Edge is one row of the transition table.
type Edge struct {
	From models.Status   `json:"from"`
	To   []models.Status `json:"to"`
}

// Table returns the transition table in lifecycle order.
func Table() []Edge {
	out := make([]Edge, 0, len(models.Statuses))
	for _, s := range models.Statuses {
		out = append(out, Edge{From: s, To: NextStatuses(s)})
	}
	return out
}
