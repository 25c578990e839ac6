package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maplepay/matcher/internal/domain"
)

type AliasRepo struct {
	db *sql.DB
}

func NewAliasRepo(db *sql.DB) *AliasRepo {
	return &AliasRepo{db: db}
}

const aliasColumns = `id, email, label, active, daily_cap_minor,
	daily_total_minor, weight, last_used_at`

// ListActiveAliases returns the rotation ring: active aliases in ascending
// id order, a stable deterministic ordering.
func (r *AliasRepo) ListActiveAliases(ctx context.Context) ([]domain.Alias, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+aliasColumns+" FROM aliases WHERE active = 1 ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectAliases(rows)
}

func (r *AliasRepo) List(ctx context.Context) ([]domain.Alias, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+aliasColumns+" FROM aliases ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectAliases(rows)
}

func (r *AliasRepo) GetByID(ctx context.Context, id int64) (*domain.Alias, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+aliasColumns+" FROM aliases WHERE id = ?", id)
	return scanAlias(row)
}

func (r *AliasRepo) Insert(ctx context.Context, a *domain.Alias) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO aliases (email, label, active, daily_cap_minor, daily_total_minor, weight)
		VALUES (?,?,?,?,0,?)`,
		a.Email, a.Label, a.Active, a.DailyCapMinor, a.Weight)
	if err != nil {
		return 0, fmt.Errorf("insert alias: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (r *AliasRepo) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE aliases SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAliasAssigned stamps the alias last-used time and adds the order
// amount to its daily accumulated total.
func (r *AliasRepo) MarkAliasAssigned(ctx context.Context, id int64, amountMinor int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE aliases SET daily_total_minor = daily_total_minor + ?, last_used_at = ?
		WHERE id = ?`,
		amountMinor, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark assigned: %w", err)
	}
	return nil
}

// ResetDailyTotals zeroes every alias's accumulated total. Called by the
// external rotation-day scheduler, not by the selection path.
func (r *AliasRepo) ResetDailyTotals(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE aliases SET daily_total_minor = 0"); err != nil {
		return fmt.Errorf("reset daily totals: %w", err)
	}
	return nil
}

// ReadRotationState reads the singleton rotation cursor.
func (r *AliasRepo) ReadRotationState(ctx context.Context) (domain.RotationState, error) {
	var st domain.RotationState
	var current sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		"SELECT current_alias_id, order_count, version FROM rotation_state WHERE id = 1").
		Scan(&current, &st.OrderCount, &st.Version)
	if err != nil {
		return domain.RotationState{}, fmt.Errorf("read rotation state: %w", err)
	}
	if current.Valid {
		id := current.Int64
		st.CurrentAliasID = &id
	}
	return st, nil
}

// WriteRotationState applies next only if the stored version still equals
// prev.Version (compare-and-set). Returns false on a lost race so the
// caller can re-read and retry.
func (r *AliasRepo) WriteRotationState(ctx context.Context, prev, next domain.RotationState) (bool, error) {
	var current any
	if next.CurrentAliasID != nil {
		current = *next.CurrentAliasID
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE rotation_state SET current_alias_id = ?, order_count = ?, version = version + 1
		WHERE id = 1 AND version = ?`,
		current, next.OrderCount, prev.Version)
	if err != nil {
		return false, fmt.Errorf("write rotation state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// --- helpers ---

func scanAliasFrom(s rowScanner) (*domain.Alias, error) {
	var a domain.Alias
	var active int
	var lastUsed sql.NullString
	err := s.Scan(&a.ID, &a.Email, &a.Label, &active, &a.DailyCapMinor,
		&a.DailyTotalMinor, &a.Weight, &lastUsed)
	if err != nil {
		return nil, err
	}
	a.Active = active != 0
	a.LastUsedAt = parseNullableTime(lastUsed)
	return &a, nil
}

func scanAlias(row *sql.Row) (*domain.Alias, error) {
	a, err := scanAliasFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func collectAliases(rows *sql.Rows) ([]domain.Alias, error) {
	var aliases []domain.Alias
	for rows.Next() {
		a, err := scanAliasFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		aliases = append(aliases, *a)
	}
	return aliases, rows.Err()
}
