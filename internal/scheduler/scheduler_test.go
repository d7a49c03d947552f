package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfletcher/intelforge/internal/testutil"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(3, testutil.NullLogger())
	require.NoError(t, err)
	return s
}

func TestScheduler_RunsJobOnInterval(t *testing.T) {
	s := newTestScheduler(t)

	var runs int32
	require.NoError(t, s.Register(Job{
		Name:     "counter",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(110 * time.Millisecond)
	s.Stop()

	got := atomic.LoadInt32(&runs)
	assert.GreaterOrEqual(t, got, int32(3))
}

func TestScheduler_RunOnStart(t *testing.T) {
	s := newTestScheduler(t)

	var runs int32
	require.NoError(t, s.Register(Job{
		Name:       "eager",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_NoOverlappingRuns(t *testing.T) {
	s := newTestScheduler(t)

	var active, maxActive int32
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "a job must never overlap itself")
}

func TestScheduler_JobErrorDoesNotStopSchedule(t *testing.T) {
	s := newTestScheduler(t)

	var runs int32
	require.NoError(t, s.Register(Job{
		Name:     "flaky",
		Interval: 15 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return errors.New("boom")
		},
	}))

	s.Start()
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}

func TestScheduler_RecoverFromPanic(t *testing.T) {
	s := newTestScheduler(t)

	var runs int32
	require.NoError(t, s.Register(Job{
		Name:     "panicky",
		Interval: 15 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			panic("kaboom")
		},
	}))

	s.Start()
	time.Sleep(80 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2), "panics must not kill the schedule")
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := newTestScheduler(t)

	var cancelled sync.WaitGroup
	cancelled.Add(1)
	require.NoError(t, s.Register(Job{
		Name:       "blocked",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			cancelled.Done()
			return ctx.Err()
		},
	}))

	s.Start()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return, job context was not cancelled")
	}
	cancelled.Wait()
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler(t)
	defer s.pool.Release()

	assert.Error(t, s.Register(Job{Interval: time.Second, Run: func(ctx context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{Name: "x", Run: func(ctx context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{Name: "x", Interval: time.Second}))
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(Job{
		Name:     "noop",
		Interval: time.Hour,
		Run:      func(ctx context.Context) error { return nil },
	}))

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestScheduler_RegisterAfterStart(t *testing.T) {
	s := newTestScheduler(t)
	s.Start()
	defer s.Stop()

	err := s.Register(Job{
		Name:     "late",
		Interval: time.Second,
		Run:      func(ctx context.Context) error { return nil },
	})
	assert.Error(t, err)
}
