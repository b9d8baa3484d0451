package pipeline

import (
	"context"

	"github.com/reelforge/reelforge/internal/assembly"
	"github.com/reelforge/reelforge/internal/format"
)

// tempo assumed when the request does not specify one
const defaultBPM = 120

// MusicVideo is the beat-driven flow: cuts snap onto the musical grid and
// the visual pass is gated so the look can be approved before the edit.
type MusicVideo struct {
	meta format.Metadata
}

func NewMusicVideo(meta format.Metadata) *MusicVideo {
	return &MusicVideo{meta: meta}
}

func (p *MusicVideo) Format() string { return p.meta.ID }

func (p *MusicVideo) Validate(req Request) error {
	return validateCommon(req, p.meta)
}

func (p *MusicVideo) Execute(ctx context.Context, run *Run) (*Result, error) {
	breakdown, scenes, err := run.scriptPhase(ctx, nil)
	if err != nil {
		return nil, err
	}

	visuals := run.visualsPhase(ctx, scenes, run.styleGuide(breakdown))
	gateVisuals(ctx, run, visuals)
	narration := run.audioPhase(ctx, scenes, run.voiceFor(run.Request.Language))

	bpm := run.Request.BPM
	if bpm <= 0 {
		bpm = defaultBPM
	}
	plan, err := run.assemblyPhase(ctx, assembly.BuildInput{
		Format:    p.meta.ID,
		Scenes:    scenes,
		Visuals:   visuals,
		Narration: narration,
		BPM:       bpm,
	})
	if err != nil {
		return &Result{Scenes: scenes}, err
	}
	return &Result{Scenes: scenes, Plan: plan}, nil
}
