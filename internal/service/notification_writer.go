package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// ExpiryAlertTTL is how long an expiry alert stays relevant.
const ExpiryAlertTTL = 7 * 24 * time.Hour

// NotificationWriter turns domain events into notification rows.
type NotificationWriter struct {
	store   NotificationStore
	metrics *metrics.Metrics
	clock   Clock
	newID   func() string
}

// NewNotificationWriter wires a NotificationWriter.
func NewNotificationWriter(store NotificationStore, m *metrics.Metrics, clock Clock) *NotificationWriter {
	return &NotificationWriter{store: store, metrics: m, clock: clock, newID: uuid.NewString}
}

// Events lists the event names the writer handles.
func (w *NotificationWriter) Events() []string {
	return []string{
		event.NameContractExpiring,
		event.NameRenewalRequested,
		event.NameRenewalApproved,
		event.NameRenewalRejected,
		event.NameRenewalEscalated,
	}
}

// Handle is an event.Handler.
func (w *NotificationWriter) Handle(ctx context.Context, ev event.Event) error {
	n := w.build(ev)
	if n == nil {
		return nil
	}
	n.ID = w.newID()
	n.CreatedAt = w.clock.now()
	if err := w.store.Insert(ctx, n); err != nil {
		w.metrics.NotificationFailures.WithLabelValues(string(n.Type)).Inc()
		return err
	}
	w.metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	return nil
}

func contractURL(id string) *string { return ptr("/dashboard/contracts/" + id) }
func renewalURL(id string) *string  { return ptr("/dashboard/renewals/" + id) }

// build maps an event to its notification; nil means nobody is notified.
func (w *NotificationWriter) build(ev event.Event) *model.Notification {
	switch e := ev.(type) {
	case event.ContractExpiring:
		expires := w.clock.now().Add(ExpiryAlertTTL)
		return &model.Notification{
			UserID:  e.OwnerID,
			Type:    model.NotificationContractExpiring,
			Title:   fmt.Sprintf("Contract expiring soon (%d days)", e.DaysUntilExpiry),
			Message: fmt.Sprintf("The contract %q with %s ends on %s", e.Title, e.ClientName, e.EndDate),
			Data: map[string]any{
				"contract_id":       e.ContractID,
				"days_until_expiry": e.DaysUntilExpiry,
				"auto_renewal":      e.AutoRenewal,
				"contract_value":    e.Value,
			},
			Priority:    lifecycle.ExpiryPriority(e.DaysUntilExpiry),
			ActionURL:   contractURL(e.ContractID),
			ActionLabel: ptr("View contract"),
			ExpiresAt:   &expires,
		}
	case event.RenewalRequested:
		if e.RequestedBy == e.OwnerID {
			return nil
		}
		return &model.Notification{
			UserID:  e.OwnerID,
			Type:    model.NotificationRenewalRequest,
			Title:   "New renewal request",
			Message: fmt.Sprintf("A renewal was requested for the contract %q with %s", e.ContractTitle, e.ClientName),
			Data: map[string]any{
				"renewal_id":   e.RenewalID,
				"contract_id":  e.ContractID,
				"requested_by": e.RequestedBy,
			},
			Priority:    e.Priority,
			ActionURL:   renewalURL(e.RenewalID),
			ActionLabel: ptr("View request"),
		}
	case event.RenewalApproved:
		return &model.Notification{
			UserID:  e.RequestedBy,
			Type:    model.NotificationRenewalApproved,
			Title:   "Renewal approved",
			Message: fmt.Sprintf("Your renewal request for %q has been approved", e.ContractTitle),
			Data: map[string]any{
				"renewal_id":           e.RenewalID,
				"new_contract_id":      e.NewContractID,
				"original_contract_id": e.ContractID,
			},
			Priority:    model.PriorityHigh,
			ActionURL:   contractURL(e.NewContractID),
			ActionLabel: ptr("View new contract"),
		}
	case event.RenewalRejected:
		return &model.Notification{
			UserID:  e.RequestedBy,
			Type:    model.NotificationRenewalRejected,
			Title:   "Renewal rejected",
			Message: fmt.Sprintf("Your renewal request for %q has been rejected", e.ContractTitle),
			Data: map[string]any{
				"renewal_id":           e.RenewalID,
				"rejection_reason":     e.Reason,
				"original_contract_id": e.ContractID,
			},
			Priority: model.PriorityMedium,
		}
	case event.RenewalEscalated:
		data := map[string]any{
			"renewal_id":           e.RenewalID,
			"escalated_from":       e.EscalatedFrom,
			"original_contract_id": e.ContractID,
		}
		if e.DaysOverdue > 0 {
			data["days_overdue"] = e.DaysOverdue
		}
		return &model.Notification{
			UserID:      e.EscalatedTo,
			Type:        model.NotificationRenewalRequest,
			Title:       "Escalated renewal needs attention",
			Message:     fmt.Sprintf("The renewal request for %q was escalated: %s", e.ContractTitle, e.Reason),
			Data:        data,
			Priority:    model.PriorityUrgent,
			ActionURL:   renewalURL(e.RenewalID),
			ActionLabel: ptr("Review now"),
		}
	}
	return nil
}
