package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelforge/reelforge/internal/adapter"
	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/checkpoint"
	"github.com/reelforge/reelforge/internal/engine"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/production"
	"github.com/reelforge/reelforge/internal/research"
	"github.com/reelforge/reelforge/internal/session"
)

// Phase names shared across formats.
const (
	PhaseResearch   = "research"
	PhaseScript     = "script"
	PhaseScreenplay = "screenplay"
	PhaseVisuals    = "visuals"
	PhaseAudio      = "audio"
	PhaseAssembly   = "assembly"
)

const (
	visualTaskTimeout = 120 * time.Second
	audioTaskTimeout  = 90 * time.Second
)

// markPhase records the phase transition on the session and its result
// payload for recovery.
func (r *Run) markPhase(phase string, result interface{}) {
	if err := r.Deps.Sessions.RecordPhase(r.Session.ID, phase, result); err != nil {
		r.Deps.Logger.Printf("warn: recording %s result: %v", phase, err)
	}
}

// timed wraps a phase body with duration accounting.
func (r *Run) timed(phase string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Deps.Telemetry.RecordPhase(phase, time.Since(start))
	return err
}

// gate opens an approval checkpoint for a phase's output. Rejection comes
// back as a CheckpointRejected error carrying the reviewer's change request.
func (r *Run) gate(ctx context.Context, phase string, data interface{}) (checkpoint.Resolution, error) {
	res, err := r.Checkpoints.Request(ctx, phase, data)
	if err != nil {
		return res, err
	}
	if !res.Approved {
		return res, &failure.CheckpointRejected{Phase: phase, ChangeRequest: res.ChangeRequest}
	}
	return res, nil
}

// critical runs a phase that the production cannot survive losing. On error
// it consults the caller's recovery handler; "retry" re-runs the phase once,
// anything else fails the run.
func (r *Run) critical(ctx context.Context, phase string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if r.Callbacks.OnCriticalFailure != nil && failure.IsCriticalPhase(phase) {
		options := make([]string, len(failure.RecoveryActions))
		for i, a := range failure.RecoveryActions {
			options[i] = string(a)
		}
		choice, herr := r.Callbacks.OnCriticalFailure(ctx, err, options)
		if herr == nil && failure.RecoveryAction(choice) == failure.RecoveryRetry {
			r.Deps.Logger.Printf("run %s: retrying %s after critical failure", r.Session.ID, phase)
			rerr := fn(ctx)
			if rerr == nil {
				return nil
			}
			err = rerr
		}
	}
	r.Failures.Add(failure.Record{
		Code:    "critical_phase_failure",
		Message: err.Error(),
		Phase:   phase,
	})
	return &failure.CriticalPhaseFailure{Phase: phase, Err: err}
}

// researchPhase gathers grounded sources when the format calls for them.
// Research failure is survivable: the script phase simply runs unsourced.
func (r *Run) researchPhase(ctx context.Context) *research.Result {
	if !r.Meta.RequiresResearch {
		return nil
	}
	topic := r.Request.ResearchTopic
	if topic == "" {
		topic = r.Request.Idea
	}
	var out *research.Result
	err := r.timed(PhaseResearch, func() error {
		res, err := r.Deps.Research.Run(ctx, research.Request{
			SessionID:          r.Session.ID,
			Topic:              topic,
			Depth:              r.Meta.ResearchDepth,
			Language:           r.Request.Language,
			ReferenceDocuments: r.Request.ReferenceDocuments,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		r.Deps.Logger.Printf("warn: run %s research failed, continuing unsourced: %v", r.Session.ID, err)
		r.Failures.Add(failure.Record{
			Code:        "research_failed",
			Message:     err.Error(),
			Phase:       PhaseResearch,
			Recoverable: true,
		})
		return nil
	}
	r.markPhase(PhaseResearch, out)
	return out
}

// scriptPhase produces the act breakdown, gates it for approval, and expands
// it into scenes. A rejected breakdown is regenerated once with the change
// request folded into the prompt.
func (r *Run) scriptPhase(ctx context.Context, sources []production.Source) (production.Breakdown, []production.Scene, error) {
	var breakdown production.Breakdown
	err := r.critical(ctx, PhaseScript, func(cctx context.Context) error {
		return r.timed(PhaseScript, func() error {
			idea := r.Request.Idea
			for attempt := 0; ; attempt++ {
				bd, err := r.Deps.Text.Breakdown(cctx, idea, adapter.BreakdownOptions{
					Language: r.Request.Language,
					Genre:    r.Request.Genre,
					MinActs:  r.Meta.MinActs,
					MaxActs:  r.Meta.MaxActs,
					Research: sources,
				})
				if err != nil {
					return err
				}
				res, gerr := r.gate(cctx, PhaseScript, bd)
				if gerr != nil {
					var rej *failure.CheckpointRejected
					if attempt == 0 && errors.As(gerr, &rej) && rej.ChangeRequest != "" {
						idea = fmt.Sprintf("%s\n\nRevision notes: %s", r.Request.Idea, rej.ChangeRequest)
						continue
					}
					return gerr
				}
				if edited, ok := res.Edits.(production.Breakdown); ok {
					bd = edited
				}
				breakdown = bd
				return nil
			}
		})
	})
	if err != nil {
		return production.Breakdown{}, nil, err
	}
	r.markPhase(PhaseScript, breakdown)

	var scenes []production.Scene
	err = r.critical(ctx, PhaseScreenplay, func(cctx context.Context) error {
		return r.timed(PhaseScreenplay, func() error {
			out, err := r.Deps.Text.Screenplay(cctx, breakdown, adapter.ScreenplayOptions{
				Language: r.Request.Language,
			})
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return fmt.Errorf("screenplay produced no scenes")
			}
			scenes = out
			return nil
		})
	})
	if err != nil {
		return breakdown, nil, err
	}

	scenes, warnings := RepairDialogue(scenes)
	warnings = append(warnings, ValidateWordCount(scenes, r.Meta.MinSeconds, r.Meta.MaxSeconds)...)
	for _, w := range warnings {
		r.Deps.Logger.Printf("warn: run %s: %s", r.Session.ID, w)
	}
	r.markPhase(PhaseScreenplay, scenes)
	return breakdown, scenes, nil
}

// visualsPhase generates one asset per scene through the engine. Failed
// scenes degrade to placeholders rather than failing the run.
func (r *Run) visualsPhase(ctx context.Context, scenes []production.Scene, style adapter.StyleGuide) map[string]production.VisualAsset {
	assets := make(map[string]production.VisualAsset, len(scenes))
	tasks := make([]engine.Task, 0, len(scenes))
	for i, scene := range scenes {
		scene, idx := scene, i
		tasks = append(tasks, engine.Task{
			ID:        scene.ID,
			Type:      "visual",
			Retryable: true,
			Timeout:   visualTaskTimeout,
			Execute: func(tctx context.Context) (interface{}, error) {
				return r.Deps.Image.Generate(tctx, scene.Action, style, r.Meta.AspectRatio, r.Session.ID, idx)
			},
		})
	}
	var results []engine.TaskResult
	r.timed(PhaseVisuals, func() error {
		results = r.Deps.Engine.Execute(ctx, tasks, engine.Options{
			ExecutionID:      fmt.Sprintf("visuals-%s", r.Session.ID),
			ConcurrencyLimit: r.Meta.ConcurrencyLimit,
			OnProgress:       r.Callbacks.OnProgress,
		})
		return nil
	})
	for _, res := range results {
		if res.Success {
			if asset, ok := res.Data.(production.VisualAsset); ok {
				assets[res.TaskID] = asset
				continue
			}
		}
		assets[res.TaskID] = production.Placeholder(res.TaskID)
		r.Failures.Add(failure.Record{
			Code:        "visual_generation_failed",
			Message:     res.Err,
			Phase:       PhaseVisuals,
			TaskID:      res.TaskID,
			Recoverable: true,
			Retryable:   true,
		})
	}
	r.markPhase(PhaseVisuals, assets)
	return assets
}

// audioPhase narrates each scene. A failed scene simply ships silent; the
// assembly stage knows how to handle the hole.
func (r *Run) audioPhase(ctx context.Context, scenes []production.Scene, voice adapter.VoiceProfile) map[string]production.NarrationSegment {
	segments := make(map[string]production.NarrationSegment, len(scenes))
	tasks := make([]engine.Task, 0, len(scenes))
	for _, scene := range scenes {
		scene := scene
		tasks = append(tasks, engine.Task{
			ID:        scene.ID,
			Type:      "audio",
			Retryable: true,
			Timeout:   audioTaskTimeout,
			Execute: func(tctx context.Context) (interface{}, error) {
				return r.Deps.TTS.Synthesize(tctx, scene, voice)
			},
		})
	}
	var results []engine.TaskResult
	r.timed(PhaseAudio, func() error {
		results = r.Deps.Engine.Execute(ctx, tasks, engine.Options{
			ExecutionID:      fmt.Sprintf("audio-%s", r.Session.ID),
			ConcurrencyLimit: r.Meta.ConcurrencyLimit,
			OnProgress:       r.Callbacks.OnProgress,
		})
		return nil
	})
	for _, res := range results {
		if res.Success {
			if seg, ok := res.Data.(production.NarrationSegment); ok {
				if len(seg.Audio) > 0 {
					if err := r.Deps.Sessions.SaveBlob(ctx, r.Session.ID, "audio-"+seg.SceneID, seg.Audio); err != nil {
						r.Deps.Logger.Printf("warn: storing audio blob for %s: %v", seg.SceneID, err)
					}
				}
				segments[res.TaskID] = seg
				continue
			}
		}
		r.Failures.Add(failure.Record{
			Code:        "narration_failed",
			Message:     res.Err,
			Phase:       PhaseAudio,
			TaskID:      res.TaskID,
			Recoverable: true,
			Retryable:   true,
		})
	}
	r.markPhase(PhaseAudio, segments)
	return segments
}

// assemblyPhase builds the renderer plan and gates it for final approval.
func (r *Run) assemblyPhase(ctx context.Context, in assembly.BuildInput) (*assembly.Plan, error) {
	var plan *assembly.Plan
	err := r.critical(ctx, PhaseAssembly, func(cctx context.Context) error {
		return r.timed(PhaseAssembly, func() error {
			p, err := assembly.Build(in)
			if err != nil {
				return err
			}
			if _, err := r.gate(cctx, PhaseAssembly, p); err != nil {
				return err
			}
			plan = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	r.markPhase(PhaseAssembly, plan)
	r.Deps.Sessions.Update(r.Session.ID, func(s *session.State) { s.CurrentPhase = PhaseAssembly })
	return plan, nil
}

// voiceFor picks the format's voice for the request language, falling back
// to English, then to a bare profile with just the language set.
func (r *Run) voiceFor(language string) adapter.VoiceProfile {
	if language == "" {
		language = "en"
	}
	if v, ok := r.Meta.VoiceProfiles[language]; ok {
		return adapter.VoiceProfile{Voice: v, Language: language, Pace: 1.0}
	}
	if v, ok := r.Meta.VoiceProfiles["en"]; ok {
		return adapter.VoiceProfile{Voice: v, Language: language, Pace: 1.0}
	}
	return adapter.VoiceProfile{Language: language, Pace: 1.0}
}

// styleGuide derives the image adapter configuration from the format and
// breakdown.
func (r *Run) styleGuide(breakdown production.Breakdown) adapter.StyleGuide {
	hook := ""
	if len(breakdown.Acts) > 0 {
		hook = breakdown.Acts[0].EmotionalHook
	}
	return adapter.StyleGuide{
		ArtStyle:      r.Meta.ArtStyle,
		EmotionalHook: hook,
		Genre:         r.Request.Genre,
		Language:      r.Request.Language,
	}
}
