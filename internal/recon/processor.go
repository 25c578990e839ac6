package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
	"github.com/maplepay/matcher/internal/matching"
	"github.com/maplepay/matcher/internal/metrics"
	"github.com/maplepay/matcher/internal/notify"
	"github.com/maplepay/matcher/internal/parser"
)

// Outcome labels what a notification ended up as.
type Outcome string

const (
	OutcomeIgnored         Outcome = "ignored"           // not a transfer, or no amount parsed
	OutcomeConfirmed       Outcome = "confirmed"         // auto-confirmed an order
	OutcomeAlreadyResolved Outcome = "already_resolved"  // someone else confirmed first
	OutcomeNeedsReview     Outcome = "needs_review"      // mid-confidence, routed to a human
	OutcomeUnmatched       Outcome = "unmatched"         // no candidate at any tier
)

var ErrOrderNotOpen = errors.New("recon: order is not in an open status")

// OrderStore is the ledger surface the processor mutates through.
type OrderStore interface {
	GetByReference(ctx context.Context, reference string) (*domain.Order, error)
	TransitionStatus(ctx context.Context, orderID string, from []domain.OrderStatus, to domain.OrderStatus, paidAt *time.Time) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Order, error)
}

type EventStore interface {
	Append(ctx context.Context, e domain.AuditEvent) error
}

type UnmatchedStore interface {
	Insert(ctx context.Context, u *domain.UnmatchedPayment) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.UnmatchedPayment, error)
	MarkResolved(ctx context.Context, id int64, orderID string) (bool, error)
}

type Config struct {
	// AutoConfirmMin is the lowest confidence that auto-confirms an order;
	// ReviewMin the lowest that still goes to a human instead of the
	// unmatched queue.
	AutoConfirmMin int
	ReviewMin      int
	PendingTTL     time.Duration
}

// Processor applies the disposition policy on top of the matching engine:
// high confidence auto-confirms, mid confidence goes to review, everything
// else lands in the unmatched queue. It never guesses on ambiguity.
type Processor struct {
	engine    *matching.Engine
	orders    OrderStore
	events    EventStore
	unmatched UnmatchedStore
	sender    notify.Sender
	metrics   *metrics.Metrics
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

func NewProcessor(
	engine *matching.Engine,
	orders OrderStore,
	events EventStore,
	unmatched UnmatchedStore,
	sender notify.Sender,
	m *metrics.Metrics,
	cfg Config,
	log *zap.Logger,
) *Processor {
	return &Processor{
		engine:    engine,
		orders:    orders,
		events:    events,
		unmatched: unmatched,
		sender:    sender,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// ProcessNotification parses one raw notification, matches it against the
// ledger and applies the disposition policy. Only store errors the caller
// should retry come back as errors; expected conditions (not a transfer,
// no candidate) are absorbed into the returned outcome.
func (p *Processor) ProcessNotification(ctx context.Context, raw string) (Outcome, error) {
	n := parser.Parse(raw)
	if !n.IsTransfer || n.AmountMinor == nil {
		p.metrics.NotificationsProcessed.WithLabelValues(string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}

	res, err := p.engine.Match(ctx, n)
	if err != nil {
		return "", fmt.Errorf("match: %w", err)
	}
	p.metrics.MatchesByTier.WithLabelValues(string(res.Tier)).Inc()

	var outcome Outcome
	switch {
	case res.Order != nil && res.Confidence >= p.cfg.AutoConfirmMin:
		outcome, err = p.autoConfirm(ctx, n, res)
	case res.Confidence >= p.cfg.ReviewMin:
		outcome, err = p.routeToReview(ctx, n, res)
	default:
		outcome, err = p.recordUnmatched(ctx, n, res)
	}
	if err != nil {
		return "", err
	}
	p.metrics.NotificationsProcessed.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (p *Processor) autoConfirm(ctx context.Context, n parser.Notification, res matching.Result) (Outcome, error) {
	order := res.Order
	paidAt := p.now().UTC()

	ok, err := p.orders.TransitionStatus(ctx, order.ID, domain.OpenStatuses(), domain.StatusPaid, &paidAt)
	if err != nil {
		return "", fmt.Errorf("transition to paid: %w", err)
	}
	if !ok {
		// The conditional update found the order already out of the open
		// statuses: another notification or an admin got there first.
		// That is a no-op by design, not an error.
		p.log.Info("order already resolved, skipping confirmation",
			zap.String("order_id", order.ID),
			zap.String("reference", order.Reference))
		return OutcomeAlreadyResolved, nil
	}

	p.appendEvent(ctx, domain.AuditEvent{
		OrderID: &order.ID,
		Type:    domain.EventPaymentMatched,
		Actor:   domain.ActorSystem,
		Data: map[string]any{
			"from_status":  string(order.Status),
			"to_status":    string(domain.StatusPaid),
			"confidence":   res.Confidence,
			"tier":         string(res.Tier),
			"amount_minor": *n.AmountMinor,
			"sender_email": n.SenderEmail,
			"sender_name":  n.SenderName,
			"tx_id":        n.TransactionID,
			"raw":          n.Raw,
		},
	})

	if err := p.sender.PaymentConfirmed(ctx, order, *n.AmountMinor); err != nil {
		p.log.Warn("payment confirmation send failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	p.log.Info("payment auto-confirmed",
		zap.String("order_id", order.ID),
		zap.String("reference", order.Reference),
		zap.Int("confidence", res.Confidence),
		zap.String("tier", string(res.Tier)))
	return OutcomeConfirmed, nil
}

func (p *Processor) routeToReview(ctx context.Context, n parser.Notification, res matching.Result) (Outcome, error) {
	data := map[string]any{
		"confidence":   res.Confidence,
		"tier":         string(res.Tier),
		"candidates":   res.Candidates,
		"amount_minor": *n.AmountMinor,
		"sender_email": n.SenderEmail,
		"raw":          n.Raw,
	}
	var orderID *string
	if res.Order != nil {
		orderID = &res.Order.ID
		data["order_reference"] = res.Order.Reference
	}

	p.appendEvent(ctx, domain.AuditEvent{
		OrderID: orderID,
		Type:    domain.EventMatchNeedsReview,
		Actor:   domain.ActorSystem,
		Data:    data,
	})

	if err := p.sender.OperatorAlert(ctx, "payment match needs review", data); err != nil {
		p.log.Warn("operator alert send failed", zap.Error(err))
	}
	return OutcomeNeedsReview, nil
}

func (p *Processor) recordUnmatched(ctx context.Context, n parser.Notification, res matching.Result) (Outcome, error) {
	u := &domain.UnmatchedPayment{
		AmountMinor:   n.AmountMinor,
		SenderEmail:   n.SenderEmail,
		SenderName:    n.SenderName,
		Reference:     n.Reference,
		TransactionID: n.TransactionID,
		RawText:       n.Raw,
		Reason:        string(res.Tier),
	}
	id, err := p.unmatched.Insert(ctx, u)
	if err != nil {
		return "", fmt.Errorf("record unmatched: %w", err)
	}
	p.metrics.UnmatchedPayments.Inc()

	p.appendEvent(ctx, domain.AuditEvent{
		Type:  domain.EventUnmatchedPayment,
		Actor: domain.ActorSystem,
		Data: map[string]any{
			"unmatched_id": id,
			"amount_minor": *n.AmountMinor,
			"sender_email": n.SenderEmail,
			"reference":    n.Reference,
		},
	})

	detail := map[string]any{
		"unmatched_id": id,
		"amount_minor": *n.AmountMinor,
		"sender_email": n.SenderEmail,
	}
	if err := p.sender.OperatorAlert(ctx, "unmatched payment received", detail); err != nil {
		p.log.Warn("operator alert send failed", zap.Error(err))
	}
	return OutcomeUnmatched, nil
}

// ManualMatch resolves an unmatched payment to an order on an operator's
// say-so. The order must still be in an open status.
func (p *Processor) ManualMatch(ctx context.Context, unmatchedID int64, orderReference string, actor domain.Actor) (*domain.Order, error) {
	u, err := p.unmatched.GetByID(ctx, unmatchedID)
	if err != nil {
		return nil, fmt.Errorf("get unmatched: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("recon: unmatched payment %d not found", unmatchedID)
	}
	if u.Resolved {
		return nil, fmt.Errorf("recon: unmatched payment %d already resolved", unmatchedID)
	}

	order, err := p.orders.GetByReference(ctx, orderReference)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	paidAt := p.now().UTC()
	ok, err := p.orders.TransitionStatus(ctx, order.ID, domain.OpenStatuses(), domain.StatusPaid, &paidAt)
	if err != nil {
		return nil, fmt.Errorf("transition to paid: %w", err)
	}
	if !ok {
		return nil, ErrOrderNotOpen
	}

	if _, err := p.unmatched.MarkResolved(ctx, unmatchedID, order.ID); err != nil {
		p.log.Warn("failed to mark unmatched payment resolved",
			zap.Int64("unmatched_id", unmatchedID), zap.Error(err))
	}

	p.appendEvent(ctx, domain.AuditEvent{
		OrderID: &order.ID,
		Type:    domain.EventManualMatch,
		Actor:   actor,
		Data: map[string]any{
			"from_status":  string(order.Status),
			"to_status":    string(domain.StatusPaid),
			"unmatched_id": unmatchedID,
		},
	})

	if err := p.sender.PaymentConfirmed(ctx, order, order.AmountMinor); err != nil {
		p.log.Warn("payment confirmation send failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

// ExpirePending cancels orders that sat in pending past their expiry.
// Orders in awaiting_payment are presumed in-flight and never touched.
func (p *Processor) ExpirePending(ctx context.Context) (int, error) {
	expired, err := p.orders.ListExpiredPending(ctx, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	cancelled := 0
	for i := range expired {
		o := &expired[i]
		ok, err := p.orders.TransitionStatus(ctx, o.ID,
			[]domain.OrderStatus{domain.StatusPending}, domain.StatusCancelled, nil)
		if err != nil {
			p.log.Warn("failed to cancel expired order",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue // moved on since we listed it
		}
		p.appendEvent(ctx, domain.AuditEvent{
			OrderID: &o.ID,
			Type:    domain.EventOrderExpired,
			Actor:   domain.ActorSystem,
			Data: map[string]any{
				"from_status": string(domain.StatusPending),
				"to_status":   string(domain.StatusCancelled),
				"expired_at":  o.ExpiresAt,
			},
		})
		cancelled++
	}
	if cancelled > 0 {
		p.log.Info("expired pending orders cancelled", zap.Int("count", cancelled))
	}
	return cancelled, nil
}

// appendEvent logs instead of failing: the business effect is already
// durable by the time the event is written, and audit gaps are surfaced
// rather than turned into user-facing errors.
func (p *Processor) appendEvent(ctx context.Context, e domain.AuditEvent) {
	if err := p.events.Append(ctx, e); err != nil {
		p.log.Error("audit event append failed",
			zap.String("type", e.Type), zap.Error(err))
	}
}
