package health

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is implemented by connection pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return errors.Wrap(p.Ping(ctx), "ping")
	}
}

// Heartbeat records the last time a periodic job completed.
type Heartbeat struct {
	last  atomic.Int64
	start time.Time
	now   func() time.Time
}

// NewHeartbeat creates a Heartbeat; the grace period starts now.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{start: time.Now(), now: time.Now}
}

// Beat records a completion.
func (b *Heartbeat) Beat() {
	b.last.Store(b.now().UnixNano())
}

// Check fails when no Beat happened within maxAge, counting from creation
// until the first beat.
func (b *Heartbeat) Check(maxAge time.Duration) CheckFunc {
	return func(context.Context) error {
		last := b.start
		if ns := b.last.Load(); ns != 0 {
			last = time.Unix(0, ns)
		}
		if age := b.now().Sub(last); age > maxAge {
			return errors.Errorf("last completion %s ago exceeds %s", age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}
