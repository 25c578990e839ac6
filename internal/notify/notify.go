package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
)

// Sender is the outbound notification seam. Rendering and delivery are
// owned by an external mailer; the core only decides when to send what.
type Sender interface {
	// PaymentConfirmed tells the customer their payment was received and
	// the order is paid.
	PaymentConfirmed(ctx context.Context, order *domain.Order, amountMinor int64) error
	// OperatorAlert raises a condition a human needs to look at.
	OperatorAlert(ctx context.Context, subject string, detail map[string]any) error
}

// LogSender satisfies Sender by logging. It stands in until a real mailer
// is wired behind the interface.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) PaymentConfirmed(_ context.Context, order *domain.Order, amountMinor int64) error {
	s.log.Info("payment confirmation notification",
		zap.String("order_id", order.ID),
		zap.String("reference", order.Reference),
		zap.String("customer_email", order.CustomerEmail),
		zap.Int64("amount_minor", amountMinor))
	return nil
}

func (s *LogSender) OperatorAlert(_ context.Context, subject string, detail map[string]any) error {
	s.log.Warn("operator alert",
		zap.String("subject", subject),
		zap.Any("detail", detail))
	return nil
}
