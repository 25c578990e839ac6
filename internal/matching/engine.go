package matching

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
	"github.com/maplepay/matcher/internal/parser"
)

// Tier labels the priority level that produced a match decision.
type Tier string

const (
	TierReferenceAmount Tier = "reference_amount"
	TierEmailAmount     Tier = "email_amount"
	TierAmountRecent    Tier = "amount_recent"
	TierAmountOnly      Tier = "amount_only"
	TierMultipleMatches Tier = "multiple_matches"
	TierNone            Tier = "none"
)

const (
	ConfidenceReference = 100
	ConfidenceEmail     = 90
	ConfidenceRecent    = 70
	ConfidenceAmbiguous = 50
	ConfidenceAmount    = 50
	ConfidenceNone      = 0
)

// Result is the outcome of a match attempt. Order is nil for the ambiguous
// and no-match cases; Candidates carries the tie size when the recency tier
// found more than one equally valid order.
type Result struct {
	Order      *domain.Order
	Confidence int
	Tier       Tier
	Candidates int
}

// Ledger is the order store surface the engine consults. Single-order
// lookups return nil (not an error) when nothing qualifies; list lookups
// return orders most recent first.
type Ledger interface {
	FindByReference(ctx context.Context, reference string, statuses []domain.OrderStatus) (*domain.Order, error)
	FindByAmountAndEmail(ctx context.Context, amountMinor int64, email string, statuses []domain.OrderStatus) (*domain.Order, error)
	FindByAmountWithin(ctx context.Context, amountMinor int64, statuses []domain.OrderStatus, since time.Time) ([]domain.Order, error)
	FindByAmount(ctx context.Context, amountMinor int64, statuses []domain.OrderStatus) (*domain.Order, error)
}

// Config carries the engine's tunables. TolerancePct is the fractional
// amount tolerance at the reference tier; RecencyWindow bounds the
// amount-plus-recency tier.
type Config struct {
	TolerancePct  float64
	RecencyWindow time.Duration
}

// Engine resolves parsed payment notifications to candidate orders using a
// strict tier ladder. The first tier that yields a decision — a match or an
// explicit ambiguity signal — wins; lower tiers are not attempted after
// that. Strict tiering rather than a blended score keeps a coincidence from
// silently crossing the auto-confirm threshold: a wrong auto-confirm costs
// far more than a human reviewing a near-miss.
type Engine struct {
	ledger Ledger
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
}

func NewEngine(ledger Ledger, cfg Config, log *zap.Logger) *Engine {
	return &Engine{ledger: ledger, cfg: cfg, now: time.Now, log: log}
}

// Match finds the best candidate order for a parsed notification. A
// notification without a parsed amount is never attempted against the
// ledger.
func (e *Engine) Match(ctx context.Context, n parser.Notification) (Result, error) {
	if !n.IsTransfer || n.AmountMinor == nil {
		return Result{Tier: TierNone, Confidence: ConfidenceNone}, nil
	}
	amount := *n.AmountMinor
	open := domain.OpenStatuses()

	// Tier 1: reference + amount within tolerance of the order's amount.
	if n.Reference != "" {
		order, err := e.ledger.FindByReference(ctx, n.Reference, open)
		if err != nil {
			return Result{}, fmt.Errorf("find by reference: %w", err)
		}
		if order != nil && e.withinTolerance(order.AmountMinor, amount) {
			return Result{Order: order, Confidence: ConfidenceReference, Tier: TierReferenceAmount, Candidates: 1}, nil
		}
		if order != nil {
			e.log.Debug("reference matched but amount out of tolerance",
				zap.String("reference", n.Reference),
				zap.Int64("order_amount", order.AmountMinor),
				zap.Int64("notification_amount", amount))
		}
	}

	// Tier 2: exact amount + sender email, most recent first.
	if n.SenderEmail != "" {
		order, err := e.ledger.FindByAmountAndEmail(ctx, amount, n.SenderEmail, open)
		if err != nil {
			return Result{}, fmt.Errorf("find by amount and email: %w", err)
		}
		if order != nil {
			return Result{Order: order, Confidence: ConfidenceEmail, Tier: TierEmailAmount, Candidates: 1}, nil
		}
	}

	// Tier 3: exact amount within the recency window. More than one
	// candidate is an explicit ambiguity signal, never a guess, and
	// matching does not fall through once the tie is detected.
	since := e.now().Add(-e.cfg.RecencyWindow)
	recent, err := e.ledger.FindByAmountWithin(ctx, amount, open, since)
	if err != nil {
		return Result{}, fmt.Errorf("find by amount within window: %w", err)
	}
	if len(recent) > 1 {
		return Result{Confidence: ConfidenceAmbiguous, Tier: TierMultipleMatches, Candidates: len(recent)}, nil
	}
	if len(recent) == 1 {
		return Result{Order: &recent[0], Confidence: ConfidenceRecent, Tier: TierAmountRecent, Candidates: 1}, nil
	}

	// Tier 4: exact amount, any age. Lowest-trust automatic tier.
	order, err := e.ledger.FindByAmount(ctx, amount, open)
	if err != nil {
		return Result{}, fmt.Errorf("find by amount: %w", err)
	}
	if order != nil {
		return Result{Order: order, Confidence: ConfidenceAmount, Tier: TierAmountOnly, Candidates: 1}, nil
	}

	return Result{Tier: TierNone, Confidence: ConfidenceNone}, nil
}

// withinTolerance checks the notification amount against the order's,
// computing the band from the order amount (handles bank-side rounding).
func (e *Engine) withinTolerance(orderAmount, notifAmount int64) bool {
	diff := math.Abs(float64(orderAmount - notifAmount))
	return diff <= e.cfg.TolerancePct*float64(orderAmount)
}
