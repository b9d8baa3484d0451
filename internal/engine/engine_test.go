package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelforge/reelforge/config"
)

func testEngine() *Engine {
	return New(config.EngineConfig{
		ConcurrencyLimit: 3,
		RetryAttempts:    3,
		RetryDelay:       time.Millisecond,
		RateLimitReset:   5 * time.Millisecond,
		CancelDrain:      time.Second,
	}, nil, nil)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	e := testEngine()
	var calls int32
	tasks := []Task{{
		ID:        "flaky",
		Type:      "unit",
		Retryable: true,
		Execute: func(ctx context.Context) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) <= 2 {
				return nil, errors.New("x")
			}
			return "ok", nil
		},
	}}
	results := e.Execute(context.Background(), tasks, Options{RetryAttempts: 3})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if !r.Success {
		t.Fatalf("expected success, got error %q", r.Err)
	}
	if r.Data != "ok" {
		t.Fatalf("expected data ok, got %v", r.Data)
	}
	if r.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", r.Attempts)
	}
}

func TestExecuteRateLimitDoesNotConsumeRetryBudget(t *testing.T) {
	e := testEngine()
	var calls int32
	tasks := []Task{{
		ID:   "limited",
		Type: "unit",
		Execute: func(ctx context.Context) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) <= 5 {
				return nil, errors.New("rate limit exceeded")
			}
			return "done", nil
		},
	}}
	results := e.Execute(context.Background(), tasks, Options{
		RetryAttempts:  1,
		RateLimitReset: time.Millisecond,
	})
	r := results[0]
	if !r.Success {
		t.Fatalf("expected success, got error %q", r.Err)
	}
	if r.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", r.Attempts)
	}
	if r.RateLimitRetries != 5 {
		t.Fatalf("expected 5 rate limit retries, got %d", r.RateLimitRetries)
	}
}

func TestExecuteNonRetryableFailsOnce(t *testing.T) {
	e := testEngine()
	var calls int32
	tasks := []Task{{
		ID: "broken",
		Execute: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("boom")
		},
	}}
	results := e.Execute(context.Background(), tasks, Options{RetryAttempts: 3})
	r := results[0]
	if r.Success {
		t.Fatal("expected failure")
	}
	if r.Err != "boom" {
		t.Fatalf("expected error boom, got %q", r.Err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
	if r.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", r.Attempts)
	}
}

func TestExecuteRetryableExhaustsBudget(t *testing.T) {
	e := testEngine()
	var calls int32
	tasks := []Task{{
		ID:        "hopeless",
		Retryable: true,
		Execute: func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("still down")
		},
	}}
	results := e.Execute(context.Background(), tasks, Options{RetryAttempts: 3})
	r := results[0]
	if r.Success {
		t.Fatal("expected failure")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if r.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", r.Attempts)
	}
}

func TestExecuteRespectsConcurrencyLimit(t *testing.T) {
	e := testEngine()
	var active, peak int32
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = Task{
			Execute: func(ctx context.Context) (interface{}, error) {
				cur := atomic.AddInt32(&active, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			},
		}
	}
	results := e.Execute(context.Background(), tasks, Options{ConcurrencyLimit: 2})
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("concurrency limit exceeded: peak %d", p)
	}
}

func TestExecuteOrdersByPriority(t *testing.T) {
	e := testEngine()
	var mu sync.Mutex
	var ran []string
	mk := func(id string, pri int) Task {
		return Task{
			ID:       id,
			Priority: pri,
			Execute: func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				ran = append(ran, id)
				mu.Unlock()
				return nil, nil
			},
		}
	}
	tasks := []Task{mk("low-a", 1), mk("high", 9), mk("low-b", 1), mk("mid", 5)}
	e.Execute(context.Background(), tasks, Options{ConcurrencyLimit: 1})
	want := []string{"high", "mid", "low-a", "low-b"}
	for i, id := range want {
		if ran[i] != id {
			t.Fatalf("run order %v, want %v", ran, want)
		}
	}
}

func TestExecuteTimeoutIsRetryable(t *testing.T) {
	e := testEngine()
	var calls int32
	tasks := []Task{{
		ID:        "slow",
		Retryable: true,
		Timeout:   20 * time.Millisecond,
		Execute: func(ctx context.Context) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
				return nil, ctx.Err()
			}
			return "recovered", nil
		},
	}}
	results := e.Execute(context.Background(), tasks, Options{RetryAttempts: 2})
	r := results[0]
	if !r.Success {
		t.Fatalf("expected recovery after timeout, got %q", r.Err)
	}
	if r.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", r.Attempts)
	}
}

func TestCancelStopsQueuedTasks(t *testing.T) {
	e := testEngine()
	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce sync.Once
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{
			Execute: func(ctx context.Context) (interface{}, error) {
				startOnce.Do(func() { close(started) })
				select {
				case <-release:
					return "late", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		}
	}
	opts := Options{ExecutionID: "cancel-test", ConcurrencyLimit: 2}
	resCh := make(chan []TaskResult, 1)
	go func() { resCh <- e.Execute(context.Background(), tasks, opts) }()

	<-started
	if err := e.Cancel("cancel-test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)
	results := <-resCh

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Success {
			t.Fatalf("task %s succeeded after cancel", r.TaskID)
		}
		if r.Err != "Task cancelled" {
			t.Fatalf("task %s error %q, want Task cancelled", r.TaskID, r.Err)
		}
		if r.Attempts != 0 || r.Duration != 0 {
			t.Fatalf("cancelled task %s carries attempts=%d duration=%v", r.TaskID, r.Attempts, r.Duration)
		}
	}

	p, ok := e.Progress("cancel-test")
	if !ok {
		t.Fatal("progress lost after completion")
	}
	if p.InProgressTasks != 0 {
		t.Fatalf("in-progress tasks after cancel: %d", p.InProgressTasks)
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	e := testEngine()
	if err := e.Cancel("no-such-run"); err == nil {
		t.Fatal("expected error for unknown execution")
	}
}

func TestExecuteAssignsMissingAndDuplicateIDs(t *testing.T) {
	e := testEngine()
	ok := func(ctx context.Context) (interface{}, error) { return nil, nil }
	tasks := []Task{
		{Execute: ok},
		{ID: "dup", Execute: ok},
		{ID: "dup", Execute: ok},
	}
	results := e.Execute(context.Background(), tasks, Options{})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if r.TaskID == "" {
			t.Fatal("result with empty task id")
		}
		if seen[r.TaskID] {
			t.Fatalf("duplicate task id in results: %s", r.TaskID)
		}
		seen[r.TaskID] = true
	}
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	e := testEngine()
	tasks := []Task{{
		ID:      "panicky",
		Execute: func(ctx context.Context) (interface{}, error) { panic("oh no") },
	}}
	results := e.Execute(context.Background(), tasks, Options{})
	r := results[0]
	if r.Success {
		t.Fatal("expected failure from panic")
	}
	if r.Err == "" {
		t.Fatal("expected error message from panic")
	}
}

func TestProgressSurvivesCompletion(t *testing.T) {
	e := testEngine()
	tasks := []Task{{
		Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
	}}
	e.Execute(context.Background(), tasks, Options{ExecutionID: "done-run"})
	p, ok := e.Progress("done-run")
	if !ok {
		t.Fatal("expected terminal progress snapshot")
	}
	if p.CompletedTasks != 1 || p.TotalTasks != 1 {
		t.Fatalf("unexpected snapshot %+v", p)
	}
}
