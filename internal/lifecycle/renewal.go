package lifecycle

import (
	"fmt"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

var renewalTransitions = map[model.RenewalStatus][]model.RenewalStatus{
	model.RenewalPending:    {model.RenewalInProgress, model.RenewalApproved, model.RenewalRejected, model.RenewalCancelled},
	model.RenewalInProgress: {model.RenewalApproved, model.RenewalRejected, model.RenewalCancelled},
	model.RenewalApproved:   nil,
	model.RenewalRejected:   nil,
	model.RenewalCancelled:  nil,
}

// CanTransitionRenewal reports whether a renewal may move from -> to.
func CanTransitionRenewal(from, to model.RenewalStatus) bool {
	for _, next := range renewalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateRenewalTransition wraps ErrIllegalTransition when the edge is
// not allowed.
func ValidateRenewalTransition(from, to model.RenewalStatus) error {
	if !CanTransitionRenewal(from, to) {
		return fmt.Errorf("%w: renewal %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsOpenRenewal reports whether the renewal can still be decided.
func IsOpenRenewal(s model.RenewalStatus) bool {
	return s == model.RenewalPending || s == model.RenewalInProgress
}

// ExpiryPriority maps days-until-expiry to a notification priority.
func ExpiryPriority(days int) model.Priority {
	switch {
	case days <= 5:
		return model.PriorityUrgent
	case days <= 10:
		return model.PriorityHigh
	default:
		return model.PriorityMedium
	}
}

// RequestPriority is the priority of a new renewal request.  A contract
// without an end date is never urgent.
func RequestPriority(days *int) model.Priority {
	if days != nil && *days <= 10 {
		return model.PriorityUrgent
	}
	return model.PriorityMedium
}
