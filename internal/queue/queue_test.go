package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simsocial/conversation-orchestrator/pkg/logger"
)

func newTestQueue(workers, maxRetries int) *Queue {
	return New(workers, maxRetries, logger.NewNop(), WithBackoff(time.Millisecond))
}

func TestQueueRunsTasks(t *testing.T) {
	q := newTestQueue(2, 0)
	q.Start(context.Background())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		q.Enqueue(Task{
			Name: "work",
			Run: func(context.Context) error {
				ran.Add(1)
				return nil
			},
		})
	}
	q.Stop()

	if got := ran.Load(); got != 5 {
		t.Fatalf("expected 5 runs, got %d", got)
	}
}

func TestQueueRetriesThenFailsPermanently(t *testing.T) {
	q := newTestQueue(1, 2)
	q.Start(context.Background())

	var attempts atomic.Int32
	var permanent atomic.Int32
	q.Enqueue(Task{
		Name: "flaky",
		Run: func(context.Context) error {
			attempts.Add(1)
			return errors.New("boom")
		},
		OnPermanentFailure: func(context.Context, error) {
			permanent.Add(1)
		},
	})
	q.Stop()

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
	if got := permanent.Load(); got != 1 {
		t.Errorf("permanent failure hook must fire exactly once, got %d", got)
	}
}

func TestQueueRecoversFromPanic(t *testing.T) {
	q := newTestQueue(1, 0)
	q.Start(context.Background())

	var permanent atomic.Int32
	var after atomic.Int32
	q.Enqueue(Task{
		Name: "panics",
		Run: func(context.Context) error {
			panic("handler bug")
		},
		OnPermanentFailure: func(context.Context, error) {
			permanent.Add(1)
		},
	})
	q.Enqueue(Task{
		Name: "survivor",
		Run: func(context.Context) error {
			after.Add(1)
			return nil
		},
	})
	q.Stop()

	if permanent.Load() != 1 {
		t.Error("panic should surface as a permanent failure")
	}
	if after.Load() != 1 {
		t.Error("worker must survive a panicking task")
	}
}

func TestEnqueueInDelays(t *testing.T) {
	q := newTestQueue(1, 0)
	q.Start(context.Background())

	done := make(chan time.Time, 1)
	start := time.Now()
	q.EnqueueIn(50*time.Millisecond, Task{
		Name: "delayed",
		Run: func(context.Context) error {
			done <- time.Now()
			return nil
		},
	})

	select {
	case at := <-done:
		if elapsed := at.Sub(start); elapsed < 50*time.Millisecond {
			t.Errorf("task ran after %v, before the delay elapsed", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
	q.Stop()
}

func TestStopCancelsPendingTimers(t *testing.T) {
	q := newTestQueue(1, 0)
	q.Start(context.Background())

	var ran atomic.Int32
	q.EnqueueIn(time.Hour, Task{
		Name: "never",
		Run: func(context.Context) error {
			ran.Add(1)
			return nil
		},
	})
	q.Stop()

	if ran.Load() != 0 {
		t.Error("task scheduled far in the future must not run after Stop")
	}
}

func TestStopDoesNotRaceEnqueue(t *testing.T) {
	for i := 0; i < 200; i++ {
		q := newTestQueue(2, 0)
		q.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(Task{
					Name: "noop",
					Run:  func(context.Context) error { return nil },
				})
			}
		}()

		// A lost race panics with "send on closed channel" and fails the run.
		q.Stop()
		wg.Wait()
	}
}
