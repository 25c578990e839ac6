package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
	"github.com/maplepay/matcher/internal/recon"
)

// Source is where unseen notifications come from.
type Source interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]domain.InboundNotification, error)
	MarkProcessed(ctx context.Context, id int64, outcome string) error
}

// Processor is the per-notification work the poller drives.
type Processor interface {
	ProcessNotification(ctx context.Context, raw string) (recon.Outcome, error)
	ExpirePending(ctx context.Context) (int, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Poller drains the notification queue on a fixed interval. Cycles are
// fully serialized: the loop runs one cycle at a time, so an overrunning
// cycle delays the next tick instead of overlapping it. Shutdown is
// cooperative and happens between cycles, never mid-flight.
type Poller struct {
	source Source
	proc   Processor
	cfg    Config
	log    *zap.Logger
}

func New(source Source, proc Processor, cfg Config, log *zap.Logger) *Poller {
	return &Poller{source: source, proc: proc, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled. An immediate first cycle runs before
// the ticker takes over.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller started", zap.Duration("interval", p.cfg.Interval))

	p.RunCycle(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle performs one full poll cycle: fetch batch, process each
// notification in order, mark outcomes, then sweep expired orders.
// Transient store failures are logged and left for the next scheduled tick
// rather than retried immediately, to avoid hot-looping against a degraded
// store.
func (p *Poller) RunCycle(ctx context.Context) {
	if err := p.cycle(ctx); err != nil {
		p.log.Error("poll cycle failed, will retry next tick", zap.Error(err))
	}
}

func (p *Poller) cycle(ctx context.Context) error {
	batch, err := p.source.FetchUnprocessed(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	for _, n := range batch {
		outcome, err := p.proc.ProcessNotification(ctx, n.RawText)
		if err != nil {
			// Leave the row unprocessed; the next cycle retries it.
			p.log.Error("notification processing failed",
				zap.Int64("notification_id", n.ID), zap.Error(err))
			continue
		}
		if err := p.source.MarkProcessed(ctx, n.ID, string(outcome)); err != nil {
			p.log.Error("failed to mark notification processed",
				zap.Int64("notification_id", n.ID), zap.Error(err))
			continue
		}
		p.log.Debug("notification processed",
			zap.Int64("notification_id", n.ID),
			zap.String("outcome", string(outcome)))
	}

	if _, err := p.proc.ExpirePending(ctx); err != nil {
		return fmt.Errorf("expire pending: %w", err)
	}
	return nil
}
