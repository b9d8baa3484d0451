package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/engine"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
	"github.com/reelforge/reelforge/internal/production"
)

const characterRefTimeout = 120 * time.Second

// MovieAnimation is the long-form animated flow. It runs a story
// sub-pipeline (breakdown, screenplay, character profiles) before the media
// phases, and generates character reference sheets after the scene visuals
// so the approved scene look anchors the character designs.
type MovieAnimation struct {
	meta format.Metadata
}

func NewMovieAnimation(meta format.Metadata) *MovieAnimation {
	return &MovieAnimation{meta: meta}
}

func (p *MovieAnimation) Format() string { return p.meta.ID }

func (p *MovieAnimation) Validate(req Request) error {
	return validateCommon(req, p.meta)
}

// story is the sub-pipeline output handed to the media phases.
type story struct {
	Breakdown  production.Breakdown          `json:"breakdown"`
	Scenes     []production.Scene            `json:"scenes"`
	Characters []production.CharacterProfile `json:"characters"`
}

func (p *MovieAnimation) Execute(ctx context.Context, run *Run) (*Result, error) {
	res := run.researchPhase(ctx)

	st, err := p.storyPhase(ctx, run, researchSources(res))
	if err != nil {
		return &Result{Research: res}, err
	}

	visuals := run.visualsPhase(ctx, st.Scenes, run.styleGuide(st.Breakdown))
	gateVisuals(ctx, run, visuals)
	p.characterRefs(ctx, run, st.Characters)

	narration := run.audioPhase(ctx, st.Scenes, run.voiceFor(run.Request.Language))

	plan, err := run.assemblyPhase(ctx, assembly.BuildInput{
		Format:       p.meta.ID,
		Scenes:       st.Scenes,
		Visuals:      visuals,
		Narration:    narration,
		WithChapters: true,
	})
	if err != nil {
		return &Result{Research: res, Scenes: st.Scenes}, err
	}
	return &Result{Research: res, Scenes: st.Scenes, Plan: plan}, nil
}

// storyPhase runs the narrative sub-pipeline: the gated breakdown and
// screenplay from the shared script phase, then character profiles gated as
// their own approval point.
func (p *MovieAnimation) storyPhase(ctx context.Context, run *Run, sources []production.Source) (*story, error) {
	breakdown, scenes, err := run.scriptPhase(ctx, sources)
	if err != nil {
		return nil, err
	}

	characters, err := run.Deps.Text.Characters(ctx, scenes)
	if err != nil {
		// characters enrich visual consistency but their absence is not fatal
		run.Failures.Add(failure.Record{
			Code:        "character_profiles_failed",
			Message:     err.Error(),
			Phase:       PhaseScreenplay,
			Recoverable: true,
		})
		run.Deps.Logger.Printf("warn: run %s: character profiling failed: %v", run.Session.ID, err)
		return &story{Breakdown: breakdown, Scenes: scenes}, nil
	}
	for i := range characters {
		characters[i].FacialTags = clampFacialTags(characters[i].FacialTags)
	}
	if _, err := run.gate(ctx, "characters", characters); err != nil {
		return nil, err
	}
	st := &story{Breakdown: breakdown, Scenes: scenes, Characters: characters}
	run.markPhase("story", st)
	return st, nil
}

// clampFacialTags keeps at most five comma-separated keywords so prompts to
// the image adapter stay bounded.
func clampFacialTags(tags string) string {
	if tags == "" {
		return ""
	}
	parts := strings.Split(tags, ",")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kept = append(kept, p)
		if len(kept) == 5 {
			break
		}
	}
	return strings.Join(kept, ", ")
}

// characterRefs generates one reference sheet per character through the
// engine. Failures degrade: the character simply ships without a sheet.
func (p *MovieAnimation) characterRefs(ctx context.Context, run *Run, characters []production.CharacterProfile) {
	if len(characters) == 0 {
		return
	}
	style := run.styleGuide(production.Breakdown{})
	tasks := make([]engine.Task, 0, len(characters))
	for i, ch := range characters {
		ch, idx := ch, i
		tasks = append(tasks, engine.Task{
			ID:        "character-" + ch.ID,
			Type:      "character-ref",
			Retryable: true,
			Timeout:   characterRefTimeout,
			Execute: func(tctx context.Context) (interface{}, error) {
				prompt := fmt.Sprintf("Character reference sheet for %s (%s): %s", ch.Name, ch.Role, ch.VisualDescription)
				return run.Deps.Image.Generate(tctx, prompt, style, p.meta.AspectRatio, run.Session.ID, -(idx + 1))
			},
		})
	}
	results := run.Deps.Engine.Execute(ctx, tasks, engine.Options{
		ExecutionID:      fmt.Sprintf("character-refs-%s", run.Session.ID),
		ConcurrencyLimit: p.meta.ConcurrencyLimit,
		OnProgress:       run.Callbacks.OnProgress,
	})
	refs := make(map[string]production.VisualAsset, len(results))
	for _, r := range results {
		if !r.Success {
			run.Failures.Add(failure.Record{
				Code:        "character_ref_failed",
				Message:     r.Err,
				Phase:       PhaseVisuals,
				TaskID:      r.TaskID,
				Recoverable: true,
				Retryable:   true,
			})
			continue
		}
		if asset, ok := r.Data.(production.VisualAsset); ok {
			refs[r.TaskID] = asset
		}
	}
	if len(refs) > 0 {
		run.markPhase("character-refs", refs)
	}
}
