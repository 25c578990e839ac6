package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maplepay/matcher/internal/domain"
	"github.com/maplepay/matcher/internal/recon"
)

type fakeSource struct {
	queue     []domain.InboundNotification
	processed map[int64]string
	fetchErr  error
}

func newFakeSource(raws ...string) *fakeSource {
	f := &fakeSource{processed: make(map[int64]string)}
	for i, raw := range raws {
		f.queue = append(f.queue, domain.InboundNotification{ID: int64(i + 1), RawText: raw})
	}
	return f
}

func (f *fakeSource) FetchUnprocessed(_ context.Context, limit int) ([]domain.InboundNotification, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.InboundNotification
	for _, n := range f.queue {
		if _, done := f.processed[n.ID]; done {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) MarkProcessed(_ context.Context, id int64, outcome string) error {
	f.processed[id] = outcome
	return nil
}

type fakeProcessor struct {
	outcomes map[string]recon.Outcome
	failOn   map[string]error
	expired  int
	calls    []string
}

func (f *fakeProcessor) ProcessNotification(_ context.Context, raw string) (recon.Outcome, error) {
	f.calls = append(f.calls, raw)
	if err, ok := f.failOn[raw]; ok {
		return "", err
	}
	if o, ok := f.outcomes[raw]; ok {
		return o, nil
	}
	return recon.OutcomeIgnored, nil
}

func (f *fakeProcessor) ExpirePending(context.Context) (int, error) {
	f.expired++
	return 0, nil
}

func newTestPoller(src *fakeSource, proc *fakeProcessor) *Poller {
	return New(src, proc, Config{Interval: time.Hour, BatchSize: 10}, zap.NewNop())
}

func TestRunCycle_ProcessesBatchInOrder(t *testing.T) {
	src := newFakeSource("first", "second", "third")
	proc := &fakeProcessor{outcomes: map[string]recon.Outcome{
		"first":  recon.OutcomeConfirmed,
		"second": recon.OutcomeUnmatched,
		"third":  recon.OutcomeIgnored,
	}}

	newTestPoller(src, proc).RunCycle(context.Background())

	require.Equal(t, []string{"first", "second", "third"}, proc.calls)
	require.Equal(t, map[int64]string{
		1: "confirmed",
		2: "unmatched",
		3: "ignored",
	}, src.processed)
	require.Equal(t, 1, proc.expired, "each cycle sweeps expired orders once")
}

func TestRunCycle_FailedNotificationStaysQueued(t *testing.T) {
	src := newFakeSource("good", "bad", "also good")
	proc := &fakeProcessor{failOn: map[string]error{"bad": errors.New("store down")}}

	p := newTestPoller(src, proc)
	p.RunCycle(context.Background())

	// The failed one was not marked, the rest of the batch still ran.
	require.Equal(t, []string{"good", "bad", "also good"}, proc.calls)
	_, marked := src.processed[2]
	require.False(t, marked)
	require.Contains(t, src.processed, int64(1))
	require.Contains(t, src.processed, int64(3))

	// The next cycle retries only the failed row.
	delete(proc.failOn, "bad")
	p.RunCycle(context.Background())
	require.Equal(t, "bad", proc.calls[len(proc.calls)-1])
	require.Contains(t, src.processed, int64(2))
}

func TestRunCycle_RespectsBatchSize(t *testing.T) {
	src := newFakeSource("a", "b", "c", "d", "e")
	proc := &fakeProcessor{}

	p := New(src, proc, Config{Interval: time.Hour, BatchSize: 2}, zap.NewNop())
	p.RunCycle(context.Background())
	require.Len(t, proc.calls, 2)

	p.RunCycle(context.Background())
	require.Len(t, proc.calls, 4)
}

func TestRunCycle_FetchErrorLeavesQueueIntact(t *testing.T) {
	src := newFakeSource("a")
	src.fetchErr = errors.New("db locked")
	proc := &fakeProcessor{}

	newTestPoller(src, proc).RunCycle(context.Background())
	require.Empty(t, proc.calls)
	require.Empty(t, src.processed)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	src := newFakeSource()
	proc := &fakeProcessor{}
	p := New(src, proc, Config{Interval: 5 * time.Millisecond, BatchSize: 10}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
	require.GreaterOrEqual(t, proc.expired, 1, "the immediate first cycle ran")
}
