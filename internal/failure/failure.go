package failure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Sentinel errors reserved for programmer errors and misconfiguration.
// Everything else surfaces through pipeline results, never as a panic or a
// raw error across a task boundary.
var (
	ErrInvalidRequest            = errors.New("invalid pipeline request")
	ErrUnknownFormat             = errors.New("unknown format")
	ErrUnsupportedDocumentFormat = errors.New("unsupported document format")
	ErrTaskCancelled             = errors.New("task cancelled")
)

// CheckpointRejected marks a run terminated by a human reviewer.
type CheckpointRejected struct {
	Phase         string
	ChangeRequest string
}

func (e CheckpointRejected) Error() string {
	return fmt.Sprintf("%s rejected by user", e.Phase)
}

// CriticalPhaseFailure wraps an unrecoverable error raised in a critical
// phase (script, screenplay, assembly).
type CriticalPhaseFailure struct {
	Phase string
	Err   error
}

func (e CriticalPhaseFailure) Error() string {
	return fmt.Sprintf("critical failure in phase %s: %v", e.Phase, e.Err)
}

func (e CriticalPhaseFailure) Unwrap() error { return e.Err }

// RecoveryAction is a user decision after a critical failure.
type RecoveryAction string

const (
	RecoveryRetry  RecoveryAction = "retry"
	RecoveryEdit   RecoveryAction = "edit"
	RecoveryCancel RecoveryAction = "cancel"
)

// RecoveryActions lists the options presented on every critical failure.
var RecoveryActions = []RecoveryAction{RecoveryRetry, RecoveryEdit, RecoveryCancel}

// criticalPhases are the phases whose unrecoverable errors stop a pipeline.
var criticalPhases = map[string]bool{
	"script":     true,
	"screenplay": true,
	"assembly":   true,
}

// IsCriticalPhase reports whether errors in the phase halt the pipeline.
func IsCriticalPhase(phase string) bool { return criticalPhases[phase] }

// Record is one captured error with its classification.
type Record struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Phase       string `json:"phase"`
	TaskID      string `json:"task_id,omitempty"`
	Recoverable bool   `json:"recoverable"`
	Retryable   bool   `json:"retryable"`
}

// Aggregator collects error records across a pipeline run.
type Aggregator struct {
	mu      sync.Mutex
	records []Record
}

func NewAggregator() *Aggregator { return &Aggregator{} }

// Add records an error.
func (a *Aggregator) Add(rec Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// Records returns a copy of everything recorded so far.
func (a *Aggregator) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// ByPhase groups recorded errors by phase.
func (a *Aggregator) ByPhase() map[string][]Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]Record)
	for _, r := range a.records {
		out[r.Phase] = append(out[r.Phase], r)
	}
	return out
}

// HasCritical reports whether any recorded error is unrecoverable.
func (a *Aggregator) HasCritical() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if !r.Recoverable {
			return true
		}
	}
	return false
}

// Len returns the number of recorded errors.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Summary produces one human-readable message with counts grouped by phase.
func (a *Aggregator) Summary() string {
	grouped := a.ByPhase()
	if len(grouped) == 0 {
		return "no errors recorded"
	}
	phases := make([]string, 0, len(grouped))
	total := 0
	for phase, recs := range grouped {
		phases = append(phases, phase)
		total += len(recs)
	}
	sort.Strings(phases)

	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s) across %d phase(s): ", total, len(phases))
	for i, phase := range phases {
		if i > 0 {
			b.WriteString("; ")
		}
		recs := grouped[phase]
		causes := make([]string, 0, len(recs))
		seen := make(map[string]bool)
		for _, r := range recs {
			if seen[r.Code] {
				continue
			}
			seen[r.Code] = true
			causes = append(causes, r.Code)
		}
		fmt.Fprintf(&b, "%s (%d: %s)", phase, len(recs), strings.Join(causes, ", "))
	}
	return b.String()
}
