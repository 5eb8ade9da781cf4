package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const notificationColumns = `id, recipient_id, sender_id, type, document_id, message, is_read, created_at`

// InsertNotification is idempotent on ID: drafts carry pre-assigned IDs so a
// retried fan-out never creates duplicates.
func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, sender_id, type, document_id, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.RecipientID, n.SenderID, n.Type, n.DocumentID, n.Message, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, since *time.Time, limit, offset int) ([]Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id=$1
	`
	args := []any{recipientID}
	if since != nil {
		query += ` AND created_at > $2`
		args = append(args, *since)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Type, &n.DocumentID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND NOT is_read`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) NotificationCountSince(ctx context.Context, recipientID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND created_at > $2`,
		recipientID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications since: %w", err)
	}
	return count, nil
}

// LatestNotificationTime returns the zero time when the recipient has no
// notifications at all.
func (s *PostgresStore) LatestNotificationTime(ctx context.Context, recipientID string) (time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM notifications WHERE recipient_id=$1`,
		recipientID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest notification time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

// MarkNotificationRead flips is_read for a notification owned by recipientID.
// A foreign or missing ID is ErrNotFound either way, so callers cannot probe
// for other users' notifications.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, recipientID string) (Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET is_read=TRUE
		WHERE id=$1 AND recipient_id=$2
		RETURNING `+notificationColumns+`
	`, notificationID, recipientID)

	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Type, &n.DocumentID, &n.Message, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read=TRUE WHERE recipient_id=$1 AND NOT is_read`,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return count, nil
}
