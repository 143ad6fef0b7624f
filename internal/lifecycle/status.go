// Package lifecycle holds the pure rules of the contract lifecycle: the
// contract and renewal state machines, calendar-day arithmetic, priority
// rules and the access policy.  Nothing here performs I/O.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/golang-sql/civil"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// ErrIllegalTransition is returned when a mutation would move a contract or
// renewal along an edge that is not in its transition table.
var ErrIllegalTransition = errors.New("illegal status transition")

// contractTransitions lists the forward edges of actual_status.  renewed and
// completed are terminal.
var contractTransitions = map[model.ActualStatus][]model.ActualStatus{
	model.ActualDraft:        {model.ActualActive, model.ActualExpiringSoon, model.ActualExpired},
	model.ActualActive:       {model.ActualExpiringSoon, model.ActualExpired, model.ActualRenewed, model.ActualCompleted},
	model.ActualExpiringSoon: {model.ActualExpired, model.ActualRenewed, model.ActualCompleted},
	model.ActualExpired:      {model.ActualRenewed, model.ActualCompleted},
	model.ActualRenewed:      nil,
	model.ActualCompleted:    nil,
}

// CanTransitionContract reports whether actual_status may move from -> to.
func CanTransitionContract(from, to model.ActualStatus) bool {
	for _, next := range contractTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateContractTransition is CanTransitionContract returning an error
// wrapping ErrIllegalTransition.
func ValidateContractTransition(from, to model.ActualStatus) error {
	if !CanTransitionContract(from, to) {
		return fmt.Errorf("%w: contract %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsTerminalContract reports whether the status can never change again.
func IsTerminalContract(s model.ActualStatus) bool {
	return s == model.ActualRenewed || s == model.ActualCompleted
}

// DateStatus computes the status implied by the end date alone: expired
// when the end date is strictly before today, expiring_soon when it falls
// within warningDays (inclusive), active otherwise.
func DateStatus(end, today civil.Date, warningDays int) model.ActualStatus {
	switch {
	case end.Before(today):
		return model.ActualExpired
	case DaysUntil(end, today) <= warningDays:
		return model.ActualExpiringSoon
	default:
		return model.ActualActive
	}
}

// NextStatus returns the status a contract should move to, and whether a
// transition is due.  Terminal contracts, contracts without an end date and
// backward moves (e.g. expired -> active after an end date was extended)
// produce no transition.
func NextStatus(current model.ActualStatus, end *civil.Date, today civil.Date, warningDays int) (model.ActualStatus, bool) {
	if end == nil || IsTerminalContract(current) {
		return current, false
	}
	target := DateStatus(*end, today, warningDays)
	if target == current || !CanTransitionContract(current, target) {
		return current, false
	}
	return target, true
}

// DaysUntil is the signed number of calendar days from today to end.
func DaysUntil(end, today civil.Date) int {
	return end.DaysSince(today)
}
