package pipeline

import (
	"context"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
	"github.com/reelforge/reelforge/internal/production"
	"github.com/reelforge/reelforge/internal/research"
)

// YouTubeNarrator is the narrated explainer flow: researched script, one
// visual per scene, a single narrator voice, chapters and an optional
// call-to-action at the tail.
type YouTubeNarrator struct {
	meta format.Metadata
}

func NewYouTubeNarrator(meta format.Metadata) *YouTubeNarrator {
	return &YouTubeNarrator{meta: meta}
}

func (p *YouTubeNarrator) Format() string { return p.meta.ID }

func (p *YouTubeNarrator) Validate(req Request) error {
	return validateCommon(req, p.meta)
}

func (p *YouTubeNarrator) Execute(ctx context.Context, run *Run) (*Result, error) {
	res := run.researchPhase(ctx)

	breakdown, scenes, err := run.scriptPhase(ctx, researchSources(res))
	if err != nil {
		return &Result{Research: res}, err
	}

	visuals := run.visualsPhase(ctx, scenes, run.styleGuide(breakdown))
	gateVisuals(ctx, run, visuals)
	narration := run.audioPhase(ctx, scenes, run.voiceFor(run.Request.Language))

	plan, err := run.assemblyPhase(ctx, assembly.BuildInput{
		Format:       p.meta.ID,
		Scenes:       scenes,
		Visuals:      visuals,
		Narration:    narration,
		CTAText:      run.Request.CTAText,
		WithChapters: true,
	})
	if err != nil {
		return &Result{Research: res, Scenes: scenes}, err
	}
	return &Result{Research: res, Scenes: scenes, Plan: plan}, nil
}

// researchSources unwraps a research result that may not exist.
func researchSources(res *research.Result) []production.Source {
	if res == nil {
		return nil
	}
	return res.Sources
}

// gateVisuals offers the generated assets for review. Visuals are not a
// critical phase: a rejection is recorded and the run continues with what it
// has, letting the reviewer fix individual scenes downstream.
func gateVisuals(ctx context.Context, run *Run, visuals map[string]production.VisualAsset) {
	if _, err := run.gate(ctx, PhaseVisuals, visuals); err != nil {
		run.Failures.Add(failure.Record{
			Code:        "visuals_rejected",
			Message:     err.Error(),
			Phase:       PhaseVisuals,
			Recoverable: true,
		})
		run.Deps.Logger.Printf("warn: run %s: visuals rejected, continuing with current assets", run.Session.ID)
	}
}
