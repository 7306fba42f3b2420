package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		backoff  time.Duration
		elapsed  time.Duration
		failed   bool
		want     time.Duration
	}{
		{"fast pass", 5 * time.Minute, time.Minute, 10 * time.Second, false, 4*time.Minute + 50*time.Second},
		{"overrun clamps to zero", 5 * time.Minute, time.Minute, 6 * time.Minute, false, 0},
		{"exact interval", time.Minute, time.Minute, time.Minute, false, 0},
		{"failure uses backoff", 5 * time.Minute, time.Minute, time.Second, true, time.Minute},
		{"failure after overrun still backs off", time.Minute, time.Minute, 2 * time.Minute, true, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextDelay(tt.interval, tt.backoff, tt.elapsed, tt.failed)
			assert.Equal(t, tt.want, got)
		})
	}
}

type countingLister struct {
	calls int32
	err   error
}

func (l *countingLister) ListTickets(context.Context) ([]domain.RemoteTicket, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.err != nil {
		return nil, l.err
	}
	return []domain.RemoteTicket{}, nil
}

func TestPollerRunsUntilCancelled(t *testing.T) {
	lister := &countingLister{}
	s := newFakeStore()
	e := newTestEngine(t, s)
	p := NewPoller(lister, e, time.Millisecond, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&lister.calls) >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
}

func TestPollerKeepsGoingAfterFetchFailure(t *testing.T) {
	lister := &countingLister{err: errors.New("provider unreachable")}
	s := newFakeStore()
	e := newTestEngine(t, s)
	p := NewPoller(lister, e, time.Millisecond, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&lister.calls) >= 2
	}, time.Second, time.Millisecond)
}
