package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// NotificationRepo writes user notifications.  Reading and marking them as
// read is done by the presentation layer directly against the store.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a new NotificationRepo bound to the given database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Insert stores one notification.
func (r *NotificationRepo) Insert(ctx context.Context, n *model.Notification) error {
	data, err := jsonArg(n.Data)
	if err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const stmt = `INSERT INTO notifications
	    (id, user_id, type, title, message, data, priority, action_url, action_label, expires_at, created_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, stmt,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data, string(n.Priority),
		n.ActionURL, n.ActionLabel, n.ExpiresAt, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// DeleteStale removes notifications read before readBefore and those whose
// expires_at has passed at now.  It returns both counts.
func (r *NotificationRepo) DeleteStale(ctx context.Context, readBefore, now time.Time) (read, expired int64, err error) {
	// read notifications past the retention window
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE read_at IS NOT NULL AND read_at < ?`, readBefore)
	if err != nil {
		return 0, 0, fmt.Errorf("delete read notifications: %w", err)
	}
	if read, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	// then anything past its own expiry, read or not
	res, err = r.db.ExecContext(ctx, `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return read, 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	if expired, err = res.RowsAffected(); err != nil {
		return read, 0, err
	}
	return read, expired, nil
}
