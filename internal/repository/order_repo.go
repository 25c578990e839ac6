package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maplepay/matcher/internal/domain"
)

type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `id, reference, amount_minor, status, customer_email,
	customer_name, customer_phone, alias_id, created_at, updated_at,
	paid_at, expires_at`

func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders
		(id, reference, amount_minor, status, customer_email, customer_name,
		 customer_phone, alias_id, created_at, updated_at, paid_at, expires_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Reference, o.AmountMinor, string(o.Status), o.CustomerEmail,
		o.CustomerName, o.CustomerPhone, o.AliasID,
		o.CreatedAt.Format(time.RFC3339), o.UpdatedAt.Format(time.RFC3339),
		formatNullableTime(o.PaidAt), o.ExpiresAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	return scanOrder(row)
}

// GetByReference fetches an order by reference token regardless of status.
func (r *OrderRepo) GetByReference(ctx context.Context, reference string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE reference = ?", reference)
	return scanOrder(row)
}

// FindByReference looks up an order by exact reference token restricted to
// the given statuses. Returns nil when nothing qualifies.
func (r *OrderRepo) FindByReference(ctx context.Context, reference string, statuses []domain.OrderStatus) (*domain.Order, error) {
	in, args := statusPlaceholders(statuses)
	args = append([]any{reference}, args...)
	row := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE reference = ? AND status IN "+in,
		args...)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// FindByAmountAndEmail returns the most recent order with the exact amount
// and customer email in the given statuses, or nil.
func (r *OrderRepo) FindByAmountAndEmail(ctx context.Context, amountMinor int64, email string, statuses []domain.OrderStatus) (*domain.Order, error) {
	in, args := statusPlaceholders(statuses)
	args = append([]any{amountMinor, email}, args...)
	row := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE amount_minor = ? AND customer_email = ? AND status IN `+in+`
		ORDER BY created_at DESC LIMIT 1`,
		args...)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// FindByAmountWithin returns all orders with the exact amount in the given
// statuses created at or after since, most recent first.
func (r *OrderRepo) FindByAmountWithin(ctx context.Context, amountMinor int64, statuses []domain.OrderStatus, since time.Time) ([]domain.Order, error) {
	in, args := statusPlaceholders(statuses)
	args = append([]any{amountMinor}, args...)
	args = append(args, since.Format(time.RFC3339))
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE amount_minor = ? AND status IN `+in+` AND created_at >= ?
		ORDER BY created_at DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// FindByAmount returns the most recent order with the exact amount in the
// given statuses with no recency constraint, or nil.
func (r *OrderRepo) FindByAmount(ctx context.Context, amountMinor int64, statuses []domain.OrderStatus) (*domain.Order, error) {
	in, args := statusPlaceholders(statuses)
	args = append([]any{amountMinor}, args...)
	row := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE amount_minor = ? AND status IN `+in+`
		ORDER BY created_at DESC LIMIT 1`,
		args...)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// TransitionStatus conditionally moves an order to the given status. The
// update applies only while the order is still in one of the from statuses;
// the returned bool is false when the precondition no longer held (someone
// else already moved the order). paidAt, when non-nil, stamps paid_at.
func (r *OrderRepo) TransitionStatus(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, paidAt *time.Time) (bool, error) {
	in, args := statusPlaceholders(from)
	now := time.Now().UTC()
	args = append([]any{string(to), now.Format(time.RFC3339), formatNullableTime(paidAt), orderID}, args...)
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ?, paid_at = COALESCE(?, paid_at)
		WHERE id = ? AND status IN `+in,
		args...)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListExpiredPending returns pending orders whose expiry has passed. Orders
// in awaiting_payment are presumed in-flight and are never returned.
func (r *OrderRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE status = ? AND expires_at < ?
		ORDER BY created_at`,
		string(domain.StatusPending), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

type OrderFilter struct {
	Status        string
	CustomerEmail string
	Page          int
	Limit         int
}

func (r *OrderRepo) List(ctx context.Context, f OrderFilter) ([]domain.Order, int, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.CustomerEmail != "" {
		clauses = append(clauses, "customer_email = ?")
		args = append(args, f.CustomerEmail)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	return orders, total, err
}

// DashboardStats holds aggregate order statistics.
type DashboardStats struct {
	Total            int   `json:"total"`
	Pending          int   `json:"pending"`
	AwaitingPayment  int   `json:"awaiting_payment"`
	Paid             int   `json:"paid"`
	Completed        int   `json:"completed"`
	Cancelled        int   `json:"cancelled"`
	PaidVolumeMinor  int64 `json:"paid_volume_minor"`
	OpenVolumeMinor  int64 `json:"open_volume_minor"`
}

func (r *OrderRepo) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	s := &DashboardStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status='pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='awaiting_payment' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('paid','processing') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('paid','processing','completed') THEN amount_minor ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('pending','awaiting_payment') THEN amount_minor ELSE 0 END), 0)
		FROM orders
	`).Scan(&s.Total, &s.Pending, &s.AwaitingPayment, &s.Paid, &s.Completed,
		&s.Cancelled, &s.PaidVolumeMinor, &s.OpenVolumeMinor)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return s, nil
}

// --- helpers ---

func statusPlaceholders(statuses []domain.OrderStatus) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = string(s)
	}
	return "(" + strings.Join(marks, ",") + ")", args
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderFrom(s rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status, createdAt, updatedAt, expiresAt string
	var aliasID sql.NullInt64
	var paidAt sql.NullString

	err := s.Scan(
		&o.ID, &o.Reference, &o.AmountMinor, &status, &o.CustomerEmail,
		&o.CustomerName, &o.CustomerPhone, &aliasID, &createdAt, &updatedAt,
		&paidAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	o.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	o.PaidAt = parseNullableTime(paidAt)
	if aliasID.Valid {
		id := aliasID.Int64
		o.AliasID = &id
	}
	return &o, nil
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	return scanOrderFrom(row)
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
