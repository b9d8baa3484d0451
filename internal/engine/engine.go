package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/reelforge/reelforge/config"
	"github.com/reelforge/reelforge/internal/telemetry"
)

// Task states tracked per execution.
const (
	StateQueued     = "queued"
	StateInProgress = "in-progress"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

const defaultTaskTimeout = 60 * time.Second

// finishedRetention bounds how many completed executions keep answering
// Progress queries.
const finishedRetention = 64

var engineTracer trace.Tracer = otel.Tracer("reelforge/internal/engine")

// Task is a single async unit of work submitted to the engine.
type Task struct {
	ID        string
	Type      string
	Priority  int // higher runs first
	Retryable bool
	Timeout   time.Duration
	Execute   func(ctx context.Context) (interface{}, error)
}

// TaskResult is the terminal outcome of one task. The result list always
// contains exactly one entry per submitted task; consumers key by TaskID.
type TaskResult struct {
	TaskID           string        `json:"task_id"`
	Type             string        `json:"type,omitempty"`
	Success          bool          `json:"success"`
	Data             interface{}   `json:"data,omitempty"`
	Err              string        `json:"error,omitempty"`
	Attempts         int           `json:"attempts"`
	RateLimitRetries int           `json:"rate_limit_retries,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Options tunes one execution. Zero values fall back to engine defaults.
type Options struct {
	ExecutionID        string
	ConcurrencyLimit   int
	RetryAttempts      int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	RateLimitReset     time.Duration
	RequestsPerMinute  int // optional proactive limiter; 0 disables
	OnProgress         func(Progress)
	OnTaskComplete     func(TaskResult)
	OnTaskFail         func(TaskResult)
}

// Progress is a snapshot of an execution's task states.
type Progress struct {
	ExecutionID     string        `json:"execution_id"`
	TotalTasks      int           `json:"total_tasks"`
	QueuedTasks     int           `json:"queued_tasks"`
	InProgressTasks int           `json:"in_progress_tasks"`
	CompletedTasks  int           `json:"completed_tasks"`
	FailedTasks     int           `json:"failed_tasks"`
	CancelledTasks  int           `json:"cancelled_tasks"`
	ETA             time.Duration `json:"eta"`
}

type taskMeta struct {
	task             Task
	seq              uint64
	state            string
	attempts         int
	rateLimitRetries int
	startTime        time.Time
	endTime          time.Time
	result           interface{}
	err              error
	cancel           context.CancelFunc
}

type execution struct {
	id      string
	opts    Options
	drain   time.Duration
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     taskQueue
	seq       uint64
	meta      map[string]*taskMeta
	order     []string
	durations []time.Duration

	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
	cancelDone chan struct{}
	done       chan struct{}
}

// Engine executes batches of tasks with bounded concurrency, per-task retry
// and timeout, cooperative cancellation and rate-limit backpressure.
type Engine struct {
	logger   *log.Logger
	defaults config.EngineConfig
	tele     *telemetry.Telemetry

	mu         sync.Mutex
	executions map[string]*execution
	finished   map[string]Progress
	retireLog  []string
}

// New creates an engine with the given defaults.
func New(cfg config.EngineConfig, logger *log.Logger, tele *telemetry.Telemetry) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return &Engine{
		logger:     logger,
		defaults:   cfg.Normalize(),
		tele:       tele,
		executions: make(map[string]*execution),
		finished:   make(map[string]Progress),
	}
}

func (e *Engine) normalize(opts Options) Options {
	if opts.ExecutionID == "" {
		opts.ExecutionID = uuid.NewString()
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = e.defaults.ConcurrencyLimit
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = e.defaults.RetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = e.defaults.RetryDelay
	}
	if opts.RateLimitReset <= 0 {
		opts.RateLimitReset = e.defaults.RateLimitReset
	}
	opts.ExponentialBackoff = opts.ExponentialBackoff || e.defaults.Backoff
	return opts
}

// Execute runs the batch and resolves with one result per task. It never
// returns an error: per-task failures surface inside the result list.
func (e *Engine) Execute(ctx context.Context, tasks []Task, opts Options) []TaskResult {
	opts = e.normalize(opts)

	ex := &execution{
		id:         opts.ExecutionID,
		opts:       opts,
		drain:      e.defaults.CancelDrain,
		meta:       make(map[string]*taskMeta, len(tasks)),
		cancelCh:   make(chan struct{}),
		cancelDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	if opts.RequestsPerMinute > 0 {
		ex.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}

	ex.mu.Lock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, dup := ex.meta[t.ID]; dup {
			t.ID = fmt.Sprintf("%s-%s", t.ID, uuid.NewString()[:8])
		}
		if t.Timeout <= 0 {
			t.Timeout = defaultTaskTimeout
		}
		m := &taskMeta{task: t, state: StateQueued}
		ex.meta[t.ID] = m
		ex.order = append(ex.order, t.ID)
	}
	// stable priority order: heap ties break on insertion sequence
	for _, id := range ex.order {
		ex.push(ex.meta[id])
	}
	ex.mu.Unlock()

	e.mu.Lock()
	e.executions[ex.id] = ex
	e.mu.Unlock()

	e.logger.Printf("execution %s: %d task(s), concurrency %d", ex.id, len(tasks), opts.ConcurrencyLimit)

	var wg sync.WaitGroup
	for i := 0; i < opts.ConcurrencyLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, ex)
		}()
	}
	wg.Wait()
	close(ex.done)

	ex.mu.Lock()
	results := make([]TaskResult, 0, len(ex.order))
	for _, id := range ex.order {
		results = append(results, buildResult(ex.meta[id]))
	}
	ex.mu.Unlock()

	e.retire(ex)
	return results
}

// Cancel aborts an execution: queued tasks are marked cancelled, in-flight
// tasks have their contexts cancelled, and the call returns once everything
// settled or the drain deadline elapsed. Repeat calls wait on the same
// latch.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	ex, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		if _, finished := e.Progress(executionID); finished {
			return nil
		}
		return fmt.Errorf("unknown execution: %s", executionID)
	}
	ex.cancelOnce.Do(func() {
		ex.cancelled.Store(true)
		close(ex.cancelCh)
		ex.mu.Lock()
		for _, m := range ex.meta {
			switch m.state {
			case StateQueued:
				m.state = StateCancelled
			case StateInProgress:
				m.state = StateCancelled
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
		ex.queue = ex.queue[:0]
		ex.mu.Unlock()
		e.logger.Printf("execution %s: cancelled", ex.id)
		go func() {
			select {
			case <-ex.done:
			case <-time.After(ex.drain):
				e.logger.Printf("warn: execution %s drain deadline elapsed with work in flight", ex.id)
			}
			close(ex.cancelDone)
		}()
	})
	ex.emitProgress()
	<-ex.cancelDone
	return nil
}

// Progress returns the current (or terminal) snapshot for an execution.
func (e *Engine) Progress(executionID string) (Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex, ok := e.executions[executionID]; ok {
		return ex.snapshot(), true
	}
	p, ok := e.finished[executionID]
	return p, ok
}

func (e *Engine) retire(ex *execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.executions, ex.id)
	e.finished[ex.id] = ex.snapshot()
	e.retireLog = append(e.retireLog, ex.id)
	for len(e.retireLog) > finishedRetention {
		delete(e.finished, e.retireLog[0])
		e.retireLog = e.retireLog[1:]
	}
}

func (e *Engine) worker(ctx context.Context, ex *execution) {
	for {
		if ex.cancelled.Load() {
			return
		}
		select {
		case <-ctx.Done():
			ex.cancelQueued()
			return
		default:
		}
		m := ex.pop()
		if m == nil {
			return
		}
		e.runTask(ctx, ex, m)
	}
}

func (e *Engine) runTask(ctx context.Context, ex *execution, m *taskMeta) {
	ex.mu.Lock()
	m.state = StateInProgress
	if m.startTime.IsZero() {
		m.startTime = time.Now()
	}
	ex.mu.Unlock()
	ex.emitProgress()

	ctx, span := engineTracer.Start(ctx, "engine.task",
		trace.WithAttributes(
			attribute.String("task.id", m.task.ID),
			attribute.String("task.type", m.task.Type),
			attribute.Int("task.priority", m.task.Priority),
		))
	defer span.End()

	if ex.limiter != nil {
		if err := ex.limiter.Wait(ctx); err != nil {
			ex.finishCancelled(e, m)
			return
		}
	}

	tctx, cancel := context.WithTimeout(ctx, m.task.Timeout)
	ex.mu.Lock()
	m.cancel = cancel
	ex.mu.Unlock()

	type outcome struct {
		data interface{}
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{nil, fmt.Errorf("task panicked: %v", r)}
			}
		}()
		data, err := m.task.Execute(tctx)
		ch <- outcome{data, err}
	}()

	var data interface{}
	var err error
	select {
	case o := <-ch:
		data, err = o.data, o.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			err = timeoutError(m.task.ID, m.task.Timeout)
		} else {
			err = context.Canceled
		}
	}
	cancel()

	if ex.cancelled.Load() || errors.Is(err, context.Canceled) {
		span.SetStatus(codes.Error, "cancelled")
		ex.finishCancelled(e, m)
		return
	}

	if err == nil {
		span.SetStatus(codes.Ok, "completed")
		ex.finishCompleted(e, m, data)
		return
	}
	span.RecordError(err)

	if IsRateLimit(err) {
		delay := RetryAfter(err, ex.opts.RateLimitReset)
		e.logger.Printf("task %s rate limited, waiting %v before requeue", m.task.ID, delay)
		e.tele.RecordRateLimitWait()
		if !ex.sleep(ctx, delay) {
			ex.finishCancelled(e, m)
			return
		}
		ex.mu.Lock()
		m.rateLimitRetries++
		m.state = StateQueued
		ex.push(m)
		ex.mu.Unlock()
		ex.emitProgress()
		return
	}

	ex.mu.Lock()
	m.attempts++
	attempts := m.attempts
	ex.mu.Unlock()

	if m.task.Retryable && attempts < ex.opts.RetryAttempts {
		delay := ex.retryDelay(attempts)
		e.logger.Printf("task %s attempt %d failed (%v), retrying in %v", m.task.ID, attempts, err, delay)
		if !ex.sleep(ctx, delay) {
			ex.finishCancelled(e, m)
			return
		}
		ex.mu.Lock()
		m.state = StateQueued
		ex.push(m)
		ex.mu.Unlock()
		ex.emitProgress()
		return
	}

	span.SetStatus(codes.Error, err.Error())
	ex.finishFailed(e, m, err)
}

func (ex *execution) retryDelay(attempts int) time.Duration {
	if !ex.opts.ExponentialBackoff {
		return ex.opts.RetryDelay
	}
	base := ex.opts.RetryDelay * time.Duration(1<<uint(attempts))
	jitter := time.Duration(rand.Int63n(int64(ex.opts.RetryDelay)))
	return base + jitter
}

// sleep waits for d, returning false if the execution was cancelled or the
// context expired first.
func (ex *execution) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ex.cancelCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (ex *execution) cancelQueued() {
	ex.mu.Lock()
	for _, m := range ex.meta {
		if m.state == StateQueued {
			m.state = StateCancelled
		}
	}
	ex.queue = ex.queue[:0]
	ex.mu.Unlock()
	ex.emitProgress()
}

func (ex *execution) finishCompleted(e *Engine, m *taskMeta, data interface{}) {
	ex.mu.Lock()
	m.state = StateCompleted
	m.endTime = time.Now()
	m.result = data
	duration := m.endTime.Sub(m.startTime)
	ex.durations = append(ex.durations, duration)
	res := buildResult(m)
	ex.mu.Unlock()
	e.tele.RecordTask(m.task.Type, StateCompleted, duration)
	if ex.opts.OnTaskComplete != nil {
		ex.opts.OnTaskComplete(res)
	}
	ex.emitProgress()
}

func (ex *execution) finishFailed(e *Engine, m *taskMeta, err error) {
	ex.mu.Lock()
	m.state = StateFailed
	m.endTime = time.Now()
	m.err = err
	res := buildResult(m)
	ex.mu.Unlock()
	e.tele.RecordTask(m.task.Type, StateFailed, m.endTime.Sub(m.startTime))
	if ex.opts.OnTaskFail != nil {
		ex.opts.OnTaskFail(res)
	}
	ex.emitProgress()
}

func (ex *execution) finishCancelled(e *Engine, m *taskMeta) {
	ex.mu.Lock()
	if m.state != StateCompleted && m.state != StateFailed {
		m.state = StateCancelled
	}
	ex.mu.Unlock()
	e.tele.RecordTask(m.task.Type, StateCancelled, 0)
	ex.emitProgress()
}

func buildResult(m *taskMeta) TaskResult {
	switch m.state {
	case StateCompleted:
		return TaskResult{
			TaskID:           m.task.ID,
			Type:             m.task.Type,
			Success:          true,
			Data:             m.result,
			Attempts:         m.attempts + 1,
			RateLimitRetries: m.rateLimitRetries,
			Duration:         m.endTime.Sub(m.startTime),
		}
	case StateCancelled:
		return TaskResult{
			TaskID:  m.task.ID,
			Type:    m.task.Type,
			Success: false,
			Err:     "Task cancelled",
		}
	default:
		errMsg := "task did not run"
		if m.err != nil {
			errMsg = m.err.Error()
		}
		return TaskResult{
			TaskID:           m.task.ID,
			Type:             m.task.Type,
			Success:          false,
			Err:              errMsg,
			Attempts:         m.attempts,
			RateLimitRetries: m.rateLimitRetries,
			Duration:         m.endTime.Sub(m.startTime),
		}
	}
}

func (ex *execution) snapshot() Progress {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	p := Progress{ExecutionID: ex.id, TotalTasks: len(ex.meta)}
	for _, m := range ex.meta {
		switch m.state {
		case StateQueued:
			p.QueuedTasks++
		case StateInProgress:
			p.InProgressTasks++
		case StateCompleted:
			p.CompletedTasks++
		case StateFailed:
			p.FailedTasks++
		case StateCancelled:
			p.CancelledTasks++
		}
	}
	if len(ex.durations) > 0 {
		var sum time.Duration
		for _, d := range ex.durations {
			sum += d
		}
		mean := sum / time.Duration(len(ex.durations))
		pending := p.InProgressTasks + p.QueuedTasks
		conc := ex.opts.ConcurrencyLimit
		if conc <= 0 {
			conc = 1
		}
		p.ETA = mean * time.Duration(pending) / time.Duration(conc)
	}
	return p
}

func (ex *execution) emitProgress() {
	if ex.opts.OnProgress == nil {
		return
	}
	ex.opts.OnProgress(ex.snapshot())
}
