package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maplepay/matcher/internal/domain"
)

type UnmatchedRepo struct {
	db *sql.DB
}

func NewUnmatchedRepo(db *sql.DB) *UnmatchedRepo {
	return &UnmatchedRepo{db: db}
}

const unmatchedColumns = `id, amount_minor, sender_email, sender_name,
	reference, transaction_id, raw_text, reason, resolved, resolved_order_id,
	received_at, resolved_at`

func (r *UnmatchedRepo) Insert(ctx context.Context, u *domain.UnmatchedPayment) (int64, error) {
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = time.Now().UTC()
	}
	var amount any
	if u.AmountMinor != nil {
		amount = *u.AmountMinor
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO unmatched_payments
		(amount_minor, sender_email, sender_name, reference, transaction_id,
		 raw_text, reason, resolved, received_at)
		VALUES (?,?,?,?,?,?,?,0,?)`,
		amount, u.SenderEmail, u.SenderName, u.Reference, u.TransactionID,
		u.RawText, u.Reason, u.ReceivedAt.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert unmatched: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	return id, nil
}

func (r *UnmatchedRepo) GetByID(ctx context.Context, id int64) (*domain.UnmatchedPayment, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+unmatchedColumns+" FROM unmatched_payments WHERE id = ?", id)
	u, err := scanUnmatchedFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// List returns unmatched payments, unresolved first unless includeResolved
// narrows the set, newest first.
func (r *UnmatchedRepo) List(ctx context.Context, includeResolved bool) ([]domain.UnmatchedPayment, error) {
	query := "SELECT " + unmatchedColumns + " FROM unmatched_payments"
	if !includeResolved {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY received_at DESC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var payments []domain.UnmatchedPayment
	for rows.Next() {
		u, err := scanUnmatchedFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		payments = append(payments, *u)
	}
	return payments, rows.Err()
}

// MarkResolved records the order a manual match resolved this payment to.
// Returns false when the row was already resolved.
func (r *UnmatchedRepo) MarkResolved(ctx context.Context, id int64, orderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE unmatched_payments SET resolved = 1, resolved_order_id = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0`,
		orderID, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("mark resolved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// --- helpers ---

func scanUnmatchedFrom(s rowScanner) (*domain.UnmatchedPayment, error) {
	var u domain.UnmatchedPayment
	var amount sql.NullInt64
	var resolved int
	var resolvedOrder, resolvedAt sql.NullString
	var receivedAt string

	err := s.Scan(&u.ID, &amount, &u.SenderEmail, &u.SenderName, &u.Reference,
		&u.TransactionID, &u.RawText, &u.Reason, &resolved, &resolvedOrder,
		&receivedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if amount.Valid {
		v := amount.Int64
		u.AmountMinor = &v
	}
	u.Resolved = resolved != 0
	if resolvedOrder.Valid {
		s := resolvedOrder.String
		u.ResolvedOrderID = &s
	}
	u.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	u.ResolvedAt = parseNullableTime(resolvedAt)
	return &u, nil
}
