package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelforge/reelforge/internal/adapter"
	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/checkpoint"
	"github.com/reelforge/reelforge/internal/engine"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
	"github.com/reelforge/reelforge/internal/production"
	"github.com/reelforge/reelforge/internal/research"
	"github.com/reelforge/reelforge/internal/session"
	"github.com/reelforge/reelforge/internal/telemetry"
)

var pipelineTracer trace.Tracer = otel.Tracer("reelforge/internal/pipeline")

// Request is the user-facing input to a production run.
type Request struct {
	Idea               string                   `json:"idea"`
	Format             string                   `json:"format"`
	Language           string                   `json:"language"`
	Genre              string                   `json:"genre,omitempty"`
	DurationSeconds    float64                  `json:"duration_seconds,omitempty"`
	CTAText            string                   `json:"cta_text,omitempty"`
	BPM                float64                  `json:"bpm,omitempty"`
	ResearchTopic      string                   `json:"research_topic,omitempty"`
	ReferenceDocuments []adapter.DocumentHandle `json:"-"`
	ResumeSessionID    string                   `json:"resume_session_id,omitempty"`
}

// Result is the terminal outcome of a run. Partial output survives failure
// so callers can inspect what was produced before things went wrong.
type Result struct {
	SessionID string             `json:"session_id"`
	Format    string             `json:"format"`
	Success   bool               `json:"success"`
	Plan      *assembly.Plan     `json:"plan,omitempty"`
	Scenes    []production.Scene `json:"scenes,omitempty"`
	Research  *research.Result   `json:"research,omitempty"`
	Failures  []failure.Record   `json:"failures,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Callbacks let the caller observe and steer a run.
type Callbacks struct {
	OnCheckpointCreated checkpoint.CreatedFunc
	OnProgress          func(engine.Progress)
	OnCriticalFailure   adapter.CriticalFailureHandler
	// OnRunStarted fires once the session exists, before the first phase.
	OnRunStarted func(*Run)
}

// Deps bundles everything a pipeline needs. Adapters are interfaces so the
// core stays provider-agnostic.
type Deps struct {
	Logger            *log.Logger
	Engine            *engine.Engine
	Sessions          *session.Store
	Research          *research.Service
	Telemetry         *telemetry.Telemetry
	Text              adapter.TextModel
	Image             adapter.ImageGenerator
	TTS               adapter.SpeechSynthesizer
	CheckpointTimeout time.Duration
}

// Run carries the per-execution state shared by every phase.
type Run struct {
	Deps        Deps
	Meta        format.Metadata
	Request     Request
	Session     *session.State
	Checkpoints *checkpoint.System
	Callbacks   Callbacks
	Failures    *failure.Aggregator
}

// Pipeline is one format's production flow.
type Pipeline interface {
	Format() string
	Validate(req Request) error
	Execute(ctx context.Context, run *Run) (*Result, error)
}

// validateCommon covers the fields every format needs.
func validateCommon(req Request, meta format.Metadata) error {
	if strings.TrimSpace(req.Idea) == "" {
		return fmt.Errorf("%w: idea is required", failure.ErrInvalidRequest)
	}
	if req.DurationSeconds != 0 {
		if req.DurationSeconds < meta.MinSeconds || req.DurationSeconds > meta.MaxSeconds {
			return fmt.Errorf("%w: duration %.0fs outside [%.0f, %.0f] for %s",
				failure.ErrInvalidRequest, req.DurationSeconds, meta.MinSeconds, meta.MaxSeconds, meta.ID)
		}
	}
	return nil
}

// Start drives one full run of a pipeline: session setup, checkpoint system
// construction, execution, and terminal bookkeeping. It is the single entry
// point the router and the control plane go through.
func Start(ctx context.Context, p Pipeline, deps Deps, meta format.Metadata, req Request, cb Callbacks) (*Result, error) {
	ctx, span := pipelineTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("format", meta.ID)))
	defer span.End()

	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if err := p.Validate(req); err != nil {
		return nil, err
	}

	var sess *session.State
	var err error
	if req.ResumeSessionID != "" {
		sess, err = deps.Sessions.Restore(ctx, req.ResumeSessionID, meta.ID)
		if err != nil {
			return nil, fmt.Errorf("resuming session: %w", err)
		}
		deps.Sessions.Update(sess.ID, func(s *session.State) { s.Status = session.StatusRunning })
	} else {
		raw, merr := json.Marshal(req)
		if merr != nil {
			return nil, fmt.Errorf("encoding request: %w", merr)
		}
		sess, err = deps.Sessions.Initialize(ctx, meta.ID, raw)
		if err != nil {
			return nil, err
		}
	}

	run := &Run{
		Deps:        deps,
		Meta:        meta,
		Request:     req,
		Session:     sess,
		Checkpoints: checkpoint.New(sess.ID, meta.CheckpointCount, deps.CheckpointTimeout, cb.OnCheckpointCreated, deps.Logger, deps.Telemetry),
		Callbacks:   cb,
		Failures:    failure.NewAggregator(),
	}
	defer run.Checkpoints.Dispose()
	if cb.OnRunStarted != nil {
		cb.OnRunStarted(run)
	}

	deps.Telemetry.RecordRunStart(meta.ID)
	deps.Logger.Printf("run %s started (format %s)", sess.ID, meta.ID)

	res, err := p.Execute(ctx, run)
	if res == nil {
		res = &Result{SessionID: sess.ID, Format: meta.ID}
	}
	res.SessionID = sess.ID
	res.Format = meta.ID
	res.Failures = run.Failures.Records()

	outcome := "success"
	status := session.StatusCompleted
	switch {
	case err == nil:
		res.Success = true
	case errors.Is(err, context.Canceled):
		outcome, status = "cancelled", session.StatusCancelled
		res.Error = err.Error()
	default:
		outcome, status = "failure", session.StatusFailed
		res.Error = err.Error()
	}
	deps.Sessions.Update(sess.ID, func(s *session.State) {
		s.Status = status
		s.Error = res.Error
		s.Checkpoints = run.Checkpoints.Used()
	})
	deps.Sessions.Flush(ctx)
	deps.Telemetry.RecordRunEnd(meta.ID, outcome)
	deps.Logger.Printf("run %s finished: %s", sess.ID, outcome)

	if err != nil {
		return res, err
	}
	return res, nil
}
