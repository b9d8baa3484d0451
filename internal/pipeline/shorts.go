package pipeline

import (
	"context"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/format"
)

// Shorts is the vertical quick-hit flow: minimal gating, hard cuts, and a
// tight duration window enforced at validation.
type Shorts struct {
	meta format.Metadata
}

func NewShorts(meta format.Metadata) *Shorts {
	return &Shorts{meta: meta}
}

func (p *Shorts) Format() string { return p.meta.ID }

func (p *Shorts) Validate(req Request) error {
	return validateCommon(req, p.meta)
}

func (p *Shorts) Execute(ctx context.Context, run *Run) (*Result, error) {
	breakdown, scenes, err := run.scriptPhase(ctx, nil)
	if err != nil {
		return nil, err
	}

	visuals := run.visualsPhase(ctx, scenes, run.styleGuide(breakdown))
	narration := run.audioPhase(ctx, scenes, run.voiceFor(run.Request.Language))

	plan, err := run.assemblyPhase(ctx, assembly.BuildInput{
		Format:    p.meta.ID,
		Scenes:    scenes,
		Visuals:   visuals,
		Narration: narration,
		CTAText:   run.Request.CTAText,
	})
	if err != nil {
		return &Result{Scenes: scenes}, err
	}
	return &Result{Scenes: scenes, Plan: plan}, nil
}
