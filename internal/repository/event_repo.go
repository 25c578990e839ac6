package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/maplepay/matcher/internal/domain"
)

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// Append writes an audit event. ID and CreatedAt are filled in when zero.
// The event log is append-only: there is no update or delete path.
func (r *EventRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	var orderID any
	if e.OrderID != nil {
		orderID = *e.OrderID
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, order_id, type, actor, data, created_at)
		VALUES (?,?,?,?,?,?)`,
		e.ID, orderID, e.Type, string(e.Actor), string(payload),
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByOrder returns the audit trail for one order, oldest first.
func (r *EventRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, type, actor, data, created_at
		FROM audit_events WHERE order_id = ? ORDER BY created_at ASC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var oid sql.NullString
		var actor, data, createdAt string
		if err := rows.Scan(&e.ID, &oid, &e.Type, &actor, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if oid.Valid {
			s := oid.String
			e.OrderID = &s
		}
		e.Actor = domain.Actor(actor)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
