package meshy

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/meshypipe/internal/metrics"
	"github.com/BaSui01/meshypipe/types"
)

// FetchFunc returns one status snapshot of a task.
type FetchFunc func(ctx context.Context) (*Task, error)

// Poller repeatedly fetches a task until it reaches a terminal status or the
// timeout elapses. It prints one progress line per fetch.
type Poller struct {
	interval time.Duration
	timeout  time.Duration
	out      io.Writer
	logger   *zap.Logger
	metrics  *metrics.Collector

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithPollLogger attaches a logger.
func WithPollLogger(l *zap.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollMetrics attaches a metrics collector.
func WithPollMetrics(m *metrics.Collector) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithClock replaces the wall clock and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// NewPoller creates a Poller writing progress lines to out.
func NewPoller(interval, timeout time.Duration, out io.Writer, opts ...PollerOption) *Poller {
	if out == nil {
		out = io.Discard
	}
	p := &Poller{
		interval: interval,
		timeout:  timeout,
		out:      out,
		logger:   zap.NewNop(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll fetches until the status is terminal and returns that snapshot, whether
// it succeeded or not; interpreting FAILED/CANCELED is up to the caller. The
// timeout is checked after each non-terminal fetch, so a timed-out poll
// performs no further fetches.
func (p *Poller) Poll(ctx context.Context, label string, kind TaskKind, fetch FetchFunc) (*Task, error) {
	started := p.now()

	for attempt := 1; ; attempt++ {
		task, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		p.metrics.RecordTaskPoll(string(kind))

		status := string(task.Status)
		if status == "" {
			status = "?"
		}
		fmt.Fprintf(p.out, "[%s] status=%s progress=%s\n", label, status, task.Progress)
		p.logger.Debug("poll",
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.String("status", status),
			zap.String("progress", task.Progress),
		)

		elapsed := p.now().Sub(started)
		if task.Status.IsTerminal() {
			p.metrics.RecordTaskFinished(string(kind), string(task.Status), elapsed)
			return task, nil
		}

		if elapsed > p.timeout {
			p.metrics.RecordTaskFinished(string(kind), "TIMEOUT", elapsed)
			return nil, types.Errorf(types.ErrPollTimeout, "%s polling timed out after %gs", label, p.timeout.Seconds())
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, types.Errorf(types.ErrCanceled, "%s polling canceled", label).WithCause(err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
