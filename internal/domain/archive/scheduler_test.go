package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubArchiver struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
	deadline  bool
	err       error
	done      chan struct{}
}

func (s *stubArchiver) ArchiveOrdersOlderThan(ctx context.Context, retention time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.retention = retention
	_, s.deadline = ctx.Deadline()
	if s.calls == 2 && s.done != nil {
		close(s.done)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Result{}, nil
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	arch := &stubArchiver{
		err:  errors.New("database unavailable"),
		done: make(chan struct{}),
	}
	s := NewScheduler(arch, SchedulerConfig{
		Interval:  5 * time.Millisecond,
		Retention: time.Hour,
		Timeout:   time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-arch.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not keep running after a failed run")
	}
	cancel()
	require.NoError(t, <-errc)

	arch.mu.Lock()
	defer arch.mu.Unlock()
	assert.Equal(t, time.Hour, arch.retention)
	assert.True(t, arch.deadline, "per-run timeout not applied")
}

func TestScheduler_InvalidInterval(t *testing.T) {
	s := NewScheduler(&stubArchiver{}, SchedulerConfig{Retention: time.Hour})
	require.Error(t, s.Run(context.Background()))
}

func TestScheduler_OnSuccess(t *testing.T) {
	arch := &stubArchiver{done: make(chan struct{})}
	var (
		mu   sync.Mutex
		seen int
	)
	s := NewScheduler(arch, SchedulerConfig{
		Interval:  5 * time.Millisecond,
		Retention: time.Hour,
		OnSuccess: func(res *Result) {
			mu.Lock()
			defer mu.Unlock()
			seen++
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-arch.done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not run")
	}
	cancel()
	require.NoError(t, <-errc)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, seen, 1)
}
