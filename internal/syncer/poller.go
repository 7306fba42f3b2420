package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// TicketLister fetches the full remote ticket set.
type TicketLister interface {
	ListTickets(ctx context.Context) ([]domain.RemoteTicket, error)
}

// Poller periodically pulls the remote ticket set and feeds it through
// the engine as a bulk catch-up pass. The sleep between passes accounts
// for processing time so the cadence does not drift; a failed pass waits
// out a fixed backoff instead.
type Poller struct {
	client   TicketLister
	engine   *Engine
	interval time.Duration
	backoff  time.Duration
	logger   *zap.Logger
}

// NewPoller constructs the polling loop.
func NewPoller(client TicketLister, engine *Engine, interval, backoff time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		client:   client,
		engine:   engine,
		interval: interval,
		backoff:  backoff,
		logger:   logger,
	}
}

// Run executes polling passes until ctx is cancelled. The first pass
// starts immediately.
func (p *Poller) Run(ctx context.Context) {
	for {
		before := time.Now()
		err := p.pass(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Error("polling pass failed", zap.Error(err))
		}

		delay := nextDelay(p.interval, p.backoff, time.Since(before), err != nil)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) pass(ctx context.Context) error {
	tickets, err := p.client.ListTickets(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("remote tickets fetched", zap.Int("count", len(tickets)))
	p.engine.ReconcileAll(ctx, tickets)
	return nil
}

// nextDelay computes the sleep before the next pass: the configured
// interval minus elapsed processing time, clamped at zero so an overrun
// never schedules a busy loop. A failed pass gets the fixed backoff.
func nextDelay(interval, backoff, elapsed time.Duration, failed bool) time.Duration {
	if failed {
		return backoff
	}
	delay := interval - elapsed
	if delay < 0 {
		return 0
	}
	return delay
}
