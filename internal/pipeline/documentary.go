package pipeline

import (
	"context"
	"fmt"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
)

// Documentary is the long-form researched flow. Research itself is gated so
// an editor can vet the source base before a word of script is written.
type Documentary struct {
	meta format.Metadata
}

func NewDocumentary(meta format.Metadata) *Documentary {
	return &Documentary{meta: meta}
}

func (p *Documentary) Format() string { return p.meta.ID }

func (p *Documentary) Validate(req Request) error {
	return validateCommon(req, p.meta)
}

func (p *Documentary) Execute(ctx context.Context, run *Run) (*Result, error) {
	res := run.researchPhase(ctx)
	if res == nil {
		return nil, &failure.CriticalPhaseFailure{
			Phase: PhaseResearch,
			Err:   fmt.Errorf("documentary requires a source base and research produced none"),
		}
	}
	if _, err := run.gate(ctx, PhaseResearch, res); err != nil {
		return &Result{Research: res}, err
	}

	breakdown, scenes, err := run.scriptPhase(ctx, res.Sources)
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
		WithChapters: true,
	})
	if err != nil {
		return &Result{Research: res, Scenes: scenes}, err
	}
	return &Result{Research: res, Scenes: scenes, Plan: plan}, nil
}
