package model

import "time"

// NotificationType classifies notifications for the presentation layer.
type NotificationType string

const (
	NotificationContractExpiring NotificationType = "contract_expiring"
	NotificationRenewalRequest   NotificationType = "renewal_request"
	NotificationRenewalApproved  NotificationType = "renewal_approved"
	NotificationRenewalRejected  NotificationType = "renewal_rejected"
)

// Notification mirrors a row of the `notifications` table.  Data is an
// opaque JSON payload interpreted only by the UI.
type Notification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Data        map[string]any   `json:"data"`
	Priority    Priority         `json:"priority"`
	ReadAt      *time.Time       `json:"read_at"`
	ActionURL   *string          `json:"action_url"`
	ActionLabel *string          `json:"action_label"`
	ExpiresAt   *time.Time       `json:"expires_at"`
	CreatedAt   time.Time        `json:"created_at"`
}
