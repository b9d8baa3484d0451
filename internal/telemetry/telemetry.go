package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry provides run, task and checkpoint accounting for the
// orchestration core. All methods are safe for concurrent use and nil-safe so
// components can run without monitoring wired in.
type Telemetry struct {
	logger  *log.Logger
	mu      sync.RWMutex
	metrics Metrics

	tasksTotal        *prometheus.CounterVec
	rateLimitRetries  prometheus.Counter
	checkpointsTotal  *prometheus.CounterVec
	runsTotal         *prometheus.CounterVec
	phaseDurationSecs *prometheus.HistogramVec
}

// Metrics holds aggregate counters readable via Snapshot.
type Metrics struct {
	RunsStarted     int64
	RunsSucceeded   int64
	RunsFailed      int64
	RunsCancelled   int64
	TasksCompleted  int64
	TasksFailed     int64
	TasksCancelled  int64
	RateLimitWaits  int64
	CheckpointsSeen int64

	TaskDurations map[string]time.Duration // task type -> cumulative
	TaskCounts    map[string]int64         // task type -> count
	PhaseCounts   map[string]int64         // phase -> count
}

// New constructs a Telemetry instance and registers its collectors on the
// given registerer (use prometheus.DefaultRegisterer in production).
func New(logger *log.Logger, reg prometheus.Registerer) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	t := &Telemetry{
		logger: logger,
		metrics: Metrics{
			TaskDurations: make(map[string]time.Duration),
			TaskCounts:    make(map[string]int64),
			PhaseCounts:   make(map[string]int64),
		},
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_engine_tasks_total",
			Help: "Engine tasks by terminal state.",
		}, []string{"state", "type"}),
		rateLimitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reelforge_engine_rate_limit_retries_total",
			Help: "Task requeues caused by upstream rate limits.",
		}),
		checkpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_checkpoints_total",
			Help: "Checkpoint lifecycle events.",
		}, []string{"event"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_pipeline_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"format", "outcome"}),
		phaseDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reelforge_pipeline_phase_duration_seconds",
			Help:    "Wall time spent in each pipeline phase.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			t.tasksTotal, t.rateLimitRetries, t.checkpointsTotal, t.runsTotal, t.phaseDurationSecs,
		} {
			if err := reg.Register(c); err != nil {
				logger.Printf("warn: register collector failed: %v", err)
			}
		}
	}
	return t
}

// RecordRunStart accounts a pipeline run beginning.
func (t *Telemetry) RecordRunStart(format string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.RunsStarted++
	t.mu.Unlock()
}

// RecordRunEnd accounts a run outcome: success, failure or cancelled.
func (t *Telemetry) RecordRunEnd(format, outcome string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	switch outcome {
	case "success":
		t.metrics.RunsSucceeded++
	case "cancelled":
		t.metrics.RunsCancelled++
	default:
		t.metrics.RunsFailed++
	}
	t.mu.Unlock()
	t.runsTotal.WithLabelValues(format, outcome).Inc()
}

// RecordTask accounts a task reaching a terminal state.
func (t *Telemetry) RecordTask(taskType, state string, duration time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	switch state {
	case "completed":
		t.metrics.TasksCompleted++
	case "failed":
		t.metrics.TasksFailed++
	case "cancelled":
		t.metrics.TasksCancelled++
	}
	t.metrics.TaskDurations[taskType] += duration
	t.metrics.TaskCounts[taskType]++
	t.mu.Unlock()
	t.tasksTotal.WithLabelValues(state, taskType).Inc()
}

// RecordRateLimitWait accounts one rate-limit requeue.
func (t *Telemetry) RecordRateLimitWait() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.RateLimitWaits++
	t.mu.Unlock()
	t.rateLimitRetries.Inc()
}

// RecordCheckpoint accounts a checkpoint lifecycle event: created, approved,
// rejected or timeout.
func (t *Telemetry) RecordCheckpoint(event string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if event == "created" {
		t.metrics.CheckpointsSeen++
	}
	t.mu.Unlock()
	t.checkpointsTotal.WithLabelValues(event).Inc()
}

// RecordPhase accounts a completed pipeline phase.
func (t *Telemetry) RecordPhase(phase string, duration time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.PhaseCounts[phase]++
	t.mu.Unlock()
	t.phaseDurationSecs.WithLabelValues(phase).Observe(duration.Seconds())
}

// Snapshot returns a copy of the aggregate metrics.
func (t *Telemetry) Snapshot() Metrics {
	if t == nil {
		return Metrics{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.metrics
	out.TaskDurations = make(map[string]time.Duration, len(t.metrics.TaskDurations))
	for k, v := range t.metrics.TaskDurations {
		out.TaskDurations[k] = v
	}
	out.TaskCounts = make(map[string]int64, len(t.metrics.TaskCounts))
	for k, v := range t.metrics.TaskCounts {
		out.TaskCounts[k] = v
	}
	out.PhaseCounts = make(map[string]int64, len(t.metrics.PhaseCounts))
	for k, v := range t.metrics.PhaseCounts {
		out.PhaseCounts[k] = v
	}
	return out
}
