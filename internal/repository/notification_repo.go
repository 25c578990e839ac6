package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maplepay/matcher/internal/domain"
)

type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Enqueue stores a raw inbound notification for the poller to pick up.
func (r *NotificationRepo) Enqueue(ctx context.Context, source, rawText string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO inbound_notifications (source, raw_text, processed, received_at)
		VALUES (?,?,0,?)`,
		source, rawText, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("enqueue notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// FetchUnprocessed returns up to limit unseen notifications, oldest first.
func (r *NotificationRepo) FetchUnprocessed(ctx context.Context, limit int) ([]domain.InboundNotification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, raw_text, processed, outcome, received_at, processed_at
		FROM inbound_notifications WHERE processed = 0
		ORDER BY received_at ASC, id ASC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var notifs []domain.InboundNotification
	for rows.Next() {
		var n domain.InboundNotification
		var processed int
		var outcome, processedAt sql.NullString
		var receivedAt string
		if err := rows.Scan(&n.ID, &n.Source, &n.RawText, &processed,
			&outcome, &receivedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		n.Processed = processed != 0
		n.Outcome = outcome.String
		n.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
		n.ProcessedAt = parseNullableTime(processedAt)
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkProcessed stamps a notification with its processing outcome.
func (r *NotificationRepo) MarkProcessed(ctx context.Context, id int64, outcome string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE inbound_notifications SET processed = 1, outcome = ?, processed_at = ?
		WHERE id = ?`,
		outcome, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}
