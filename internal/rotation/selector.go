package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
)

// ErrRotationConflict is returned when the rotation state write keeps
// losing the compare-and-set race after the bounded retries.
var ErrRotationConflict = errors.New("rotation: state write conflict not resolved")

// Store is the alias/rotation persistence surface. WriteRotationState must
// be atomic relative to concurrent writers: it applies next only when the
// stored version still matches prev and reports false on a lost race.
type Store interface {
	ListActiveAliases(ctx context.Context) ([]domain.Alias, error)
	ReadRotationState(ctx context.Context) (domain.RotationState, error)
	WriteRotationState(ctx context.Context, prev, next domain.RotationState) (bool, error)
	MarkAliasAssigned(ctx context.Context, aliasID int64, amountMinor int64) error
}

// Assignment is what order creation embeds in payment instructions.
// AliasID is nil when the selector fell back to the static default.
type Assignment struct {
	AliasID                 *int64 `json:"alias_id,omitempty"`
	Email                   string `json:"email"`
	Label                   string `json:"label"`
	RemainingBeforeRotation int    `json:"remaining_before_rotation"`
	Fallback                bool   `json:"fallback,omitempty"`
}

type Config struct {
	OrdersPerRotation int
	EnforceDailyCap   bool
	MaxWriteAttempts  int
	DefaultEmail      string
	DefaultLabel      string
}

// Selector owns the round-robin rotation cursor. All callers in this
// process are serialized through its mutex; the versioned state write
// closes the race against any other writer sharing the database. It is an
// explicit owned component constructed once at startup — rotation state is
// never reached through ambient globals.
type Selector struct {
	store Store
	cfg   Config
	log   *zap.Logger

	mu sync.Mutex
}

func NewSelector(store Store, cfg Config, log *zap.Logger) *Selector {
	if cfg.MaxWriteAttempts <= 0 {
		cfg.MaxWriteAttempts = 5
	}
	return &Selector{store: store, cfg: cfg, log: log}
}

// SelectForNewOrder picks the receiving alias for a new order of the given
// amount, durably persisting the counter increment before returning. The
// assignment rules, in order:
//
//   - empty ring: static default alias, warning logged, no state written
//   - nil cursor: ring head
//   - cursor alias gone from the ring: self-heal to ring head, counter reset
//   - counter at the rotation threshold: advance one ring position, wrapping
//   - daily-cap enforcement on: skip aliases without capacity for amount
func (s *Selector) SelectForNewOrder(ctx context.Context, amountMinor int64) (Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond

	for attempt := 0; attempt < s.cfg.MaxWriteAttempts; attempt++ {
		ring, err := s.store.ListActiveAliases(ctx)
		if err != nil {
			return Assignment{}, fmt.Errorf("list active aliases: %w", err)
		}
		if len(ring) == 0 {
			s.log.Warn("no active aliases configured, using static default",
				zap.String("default_email", s.cfg.DefaultEmail))
			return s.defaultAssignment(), nil
		}

		state, err := s.store.ReadRotationState(ctx)
		if err != nil {
			return Assignment{}, fmt.Errorf("read rotation state: %w", err)
		}

		idx, count := s.position(ring, state)

		if s.cfg.EnforceDailyCap {
			capIdx, ok := firstWithCapacity(ring, idx, amountMinor)
			if !ok {
				s.log.Warn("every active alias is at its daily cap, using static default",
					zap.Int64("amount_minor", amountMinor))
				return s.defaultAssignment(), nil
			}
			if capIdx != idx {
				idx = capIdx
				count = 0
			}
		}

		chosen := ring[idx]
		next := domain.RotationState{
			CurrentAliasID: &chosen.ID,
			OrderCount:     count + 1,
			Version:        state.Version + 1,
		}

		ok, err := s.store.WriteRotationState(ctx, state, next)
		if err != nil {
			return Assignment{}, fmt.Errorf("write rotation state: %w", err)
		}
		if !ok {
			// Lost the race to another writer: re-read and retry with
			// fresh state. Dropping the assignment is not an option.
			s.log.Debug("rotation state write conflict, retrying",
				zap.Int("attempt", attempt+1))
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return Assignment{}, ctx.Err()
			}
			continue
		}

		if err := s.store.MarkAliasAssigned(ctx, chosen.ID, amountMinor); err != nil {
			// The rotation increment is already durable; the stale
			// last-used stamp is worth a warning, not a failed order.
			s.log.Warn("failed to stamp alias usage",
				zap.Int64("alias_id", chosen.ID), zap.Error(err))
		}

		return Assignment{
			AliasID:                 &chosen.ID,
			Email:                   chosen.Email,
			Label:                   chosen.Label,
			RemainingBeforeRotation: s.cfg.OrdersPerRotation - next.OrderCount,
		}, nil
	}

	return Assignment{}, ErrRotationConflict
}

// position resolves the ring index and pre-increment counter for the
// current state, applying the self-healing and threshold-advance rules.
// The advance fires when the increment about to happen would reach the
// threshold, so the persisted counter always stays below it.
func (s *Selector) position(ring []domain.Alias, state domain.RotationState) (idx, count int) {
	idx, count = 0, state.OrderCount
	if state.CurrentAliasID != nil {
		cur := -1
		for i, a := range ring {
			if a.ID == *state.CurrentAliasID {
				cur = i
				break
			}
		}
		if cur == -1 {
			// Current alias was deactivated since last use: fall back to
			// the ring head and reset, independent of the threshold check.
			s.log.Info("rotation cursor alias no longer active, resetting to ring head",
				zap.Int64("alias_id", *state.CurrentAliasID))
			return 0, 0
		}
		idx = cur
	}

	if count+1 >= s.cfg.OrdersPerRotation {
		return (idx + 1) % len(ring), 0
	}
	return idx, count
}

// firstWithCapacity scans the ring from start for the first alias that can
// absorb amountMinor without exceeding its daily cap, wrapping around.
func firstWithCapacity(ring []domain.Alias, start int, amountMinor int64) (int, bool) {
	for i := 0; i < len(ring); i++ {
		idx := (start + i) % len(ring)
		if ring[idx].HasCapacityFor(amountMinor) {
			return idx, true
		}
	}
	return 0, false
}

func (s *Selector) defaultAssignment() Assignment {
	return Assignment{
		Email:                   s.cfg.DefaultEmail,
		Label:                   s.cfg.DefaultLabel,
		RemainingBeforeRotation: s.cfg.OrdersPerRotation,
		Fallback:                true,
	}
}

// AdvanceRotation forces the cursor one ring position forward and resets
// the counter. Administrative operation.
func (s *Selector) AdvanceRotation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < s.cfg.MaxWriteAttempts; attempt++ {
		ring, err := s.store.ListActiveAliases(ctx)
		if err != nil {
			return fmt.Errorf("list active aliases: %w", err)
		}
		if len(ring) == 0 {
			return errors.New("rotation: no active aliases to advance to")
		}

		state, err := s.store.ReadRotationState(ctx)
		if err != nil {
			return fmt.Errorf("read rotation state: %w", err)
		}

		// A forced advance moves one position from wherever the cursor is;
		// a missing or deactivated cursor lands on the ring head.
		idx := 0
		if state.CurrentAliasID != nil {
			for i, a := range ring {
				if a.ID == *state.CurrentAliasID {
					idx = (i + 1) % len(ring)
					break
				}
			}
		}

		next := domain.RotationState{
			CurrentAliasID: &ring[idx].ID,
			OrderCount:     0,
			Version:        state.Version + 1,
		}
		ok, err := s.store.WriteRotationState(ctx, state, next)
		if err != nil {
			return fmt.Errorf("write rotation state: %w", err)
		}
		if ok {
			s.log.Info("rotation advanced",
				zap.Int64("alias_id", ring[idx].ID), zap.String("email", ring[idx].Email))
			return nil
		}
	}
	return ErrRotationConflict
}

// ResetRotation clears the cursor so the next selection starts from the
// ring head. Administrative operation.
func (s *Selector) ResetRotation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < s.cfg.MaxWriteAttempts; attempt++ {
		state, err := s.store.ReadRotationState(ctx)
		if err != nil {
			return fmt.Errorf("read rotation state: %w", err)
		}
		next := domain.RotationState{CurrentAliasID: nil, OrderCount: 0, Version: state.Version + 1}
		ok, err := s.store.WriteRotationState(ctx, state, next)
		if err != nil {
			return fmt.Errorf("write rotation state: %w", err)
		}
		if ok {
			s.log.Info("rotation reset")
			return nil
		}
	}
	return ErrRotationConflict
}

// State exposes the current cursor for the admin API.
func (s *Selector) State(ctx context.Context) (domain.RotationState, error) {
	return s.store.ReadRotationState(ctx)
}
