package pipeline

import (
	"context"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
)

// research confidence under this level gets flagged on news output
const newsConfidenceFloor = 0.4

// NewsPolitics is the current-affairs flow: sourced research is gated before
// scripting, and weakly sourced runs carry an explicit low-confidence flag
// instead of shipping silently.
type NewsPolitics struct {
	meta format.Metadata
}

func NewNewsPolitics(meta format.Metadata) *NewsPolitics {
	return &NewsPolitics{meta: meta}
}

func (p *NewsPolitics) Format() string { return p.meta.ID }

func (p *NewsPolitics) Validate(req Request) error {
	return validateCommon(req, p.meta)
}

func (p *NewsPolitics) Execute(ctx context.Context, run *Run) (*Result, error) {
	res := run.researchPhase(ctx)
	if res != nil {
		if _, err := run.gate(ctx, PhaseResearch, res); err != nil {
			return &Result{Research: res}, err
		}
		if res.Confidence < newsConfidenceFloor {
			run.Failures.Add(failure.Record{
				Code:        "low_research_confidence",
				Message:     "research confidence below the editorial floor",
				Phase:       PhaseResearch,
				Recoverable: true,
			})
		}
	}

	breakdown, scenes, err := run.scriptPhase(ctx, researchSources(res))
	if err != nil {
		return &Result{Research: res}, err
	}

	visuals := run.visualsPhase(ctx, scenes, run.styleGuide(breakdown))
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
