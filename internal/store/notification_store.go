package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsort/internal/model"
)

// AppendNotification inserts a new notification record.
func (s *SQLiteStore) AppendNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, message_id, subject, author, date, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.MessageID, n.Subject, n.Author,
		n.Date.UTC(), boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification for %s: %w", n.MessageID, err)
	}

	return nil
}

// ListNotifications returns notifications newest first. With unreadOnly
// set, acknowledged notifications are left out.
func (s *SQLiteStore) ListNotifications(
	ctx context.Context,
	unreadOnly bool,
) ([]model.Notification, error) {
	query := "SELECT id, message_id, subject, author, date, read, created_at FROM notifications"
	if unreadOnly {
		query += " WHERE read = 0"
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClearNotifications deletes every notification.
func (s *SQLiteStore) ClearNotifications(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	return nil
}

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		readInt   int
		date      time.Time
		createdAt time.Time
	)

	err := rows.Scan(
		&n.ID, &n.MessageID, &n.Subject, &n.Author,
		&date, &readInt, &createdAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Read = readInt != 0
	n.Date = date
	n.CreatedAt = createdAt

	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
