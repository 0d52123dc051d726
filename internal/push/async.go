package push

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/callring/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrClosed    = errors.New("push: notifier closed")
	ErrQueueFull = errors.New("push: queue full")
)

// Async is a fire-and-forget wrapper. Notify only enqueues; a fixed set of
// workers drains the queue and the outcome is only logged.
type Async struct {
	next    core.PushNotifier
	timeout time.Duration
	queue   chan core.PushNotification
	pool    *pool.Pool

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next core.PushNotifier, workers, queue int, timeout time.Duration) *Async {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		queue:   make(chan core.PushNotification, queue),
		pool:    pool.New().WithMaxGoroutines(workers),
	}
	for range workers {
		a.pool.Go(a.work)
	}
	return a
}

// Notify never blocks. A full queue drops the notification.
func (a *Async) Notify(_ context.Context, n core.PushNotification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- n:
		return nil
	default:
		log.Warn().Str("module", "push.async").Int("queue", cap(a.queue)).Msg("push queue full, dropping")
		return ErrQueueFull
	}
}

func (a *Async) work() {
	for n := range a.queue {
		a.send(n)
	}
}

// The request context ends with the socket read; the push outlives it.
func (a *Async) send(n core.PushNotification) {
	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.next.Notify(ctx, n); err != nil {
		log.Error().Err(err).Str("module", "push.async").Msg("push failed")
	}
}

// Close stops accepting work and waits until the queue is drained.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.pool.Wait()
}
