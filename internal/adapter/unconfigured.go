package adapter

import (
	"context"
	"fmt"

	"github.com/reelforge/reelforge/internal/production"
)

// ErrNotConfigured is returned by the placeholder adapters installed when a
// deployment has not wired real providers yet. Runs start, fail fast, and
// report exactly what is missing.
var ErrNotConfigured = fmt.Errorf("adapter not configured")

type unconfiguredText struct{}

// UnconfiguredText returns a TextModel that rejects every call.
func UnconfiguredText() TextModel { return unconfiguredText{} }

func (unconfiguredText) Breakdown(ctx context.Context, idea string, opts BreakdownOptions) (production.Breakdown, error) {
	return production.Breakdown{}, fmt.Errorf("%w: text model", ErrNotConfigured)
}

func (unconfiguredText) Screenplay(ctx context.Context, bd production.Breakdown, opts ScreenplayOptions) ([]production.Scene, error) {
	return nil, fmt.Errorf("%w: text model", ErrNotConfigured)
}

func (unconfiguredText) Characters(ctx context.Context, scenes []production.Scene) ([]production.CharacterProfile, error) {
	return nil, fmt.Errorf("%w: text model", ErrNotConfigured)
}

type unconfiguredImage struct{}

// UnconfiguredImage returns an ImageGenerator that rejects every call.
func UnconfiguredImage() ImageGenerator { return unconfiguredImage{} }

func (unconfiguredImage) Generate(ctx context.Context, sceneAction string, style StyleGuide, aspectRatio, sessionID string, sceneIndex int) (production.VisualAsset, error) {
	return production.VisualAsset{}, fmt.Errorf("%w: image generator", ErrNotConfigured)
}

type unconfiguredSpeech struct{}

// UnconfiguredSpeech returns a SpeechSynthesizer that rejects every call.
func UnconfiguredSpeech() SpeechSynthesizer { return unconfiguredSpeech{} }

func (unconfiguredSpeech) Synthesize(ctx context.Context, scene production.Scene, voice VoiceProfile) (production.NarrationSegment, error) {
	return production.NarrationSegment{}, fmt.Errorf("%w: speech synthesizer", ErrNotConfigured)
}

type unconfiguredKnowledge struct{}

// UnconfiguredKnowledge returns a GroundedKnowledge that rejects every call.
func UnconfiguredKnowledge() GroundedKnowledge { return unconfiguredKnowledge{} }

func (unconfiguredKnowledge) Query(ctx context.Context, subQuery string, opts QueryOptions) ([]production.Source, error) {
	return nil, fmt.Errorf("%w: grounded knowledge", ErrNotConfigured)
}
