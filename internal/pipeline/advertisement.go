package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/failure"
	"github.com/reelforge/reelforge/internal/format"
)

// Advertisement is the short commercial flow: no research, hard cuts, and a
// mandatory call-to-action covering the tail.
type Advertisement struct {
	meta format.Metadata
}

func NewAdvertisement(meta format.Metadata) *Advertisement {
	return &Advertisement{meta: meta}
}

func (p *Advertisement) Format() string { return p.meta.ID }

func (p *Advertisement) Validate(req Request) error {
	if err := validateCommon(req, p.meta); err != nil {
		return err
	}
	if strings.TrimSpace(req.CTAText) == "" {
		return fmt.Errorf("%w: advertisement requires cta_text", failure.ErrInvalidRequest)
	}
	return nil
}

func (p *Advertisement) Execute(ctx context.Context, run *Run) (*Result, error) {
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
