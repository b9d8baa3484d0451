package adapter

import (
	"context"

	"github.com/reelforge/reelforge/internal/production"
)

// The core never talks to a model provider directly. Every external
// generation capability is an interface injected at construction; concrete
// implementations (OpenAI, ElevenLabs, local inference, ...) live outside
// this module.

// BreakdownOptions tunes the act breakdown call.
type BreakdownOptions struct {
	Language string
	Genre    string
	MinActs  int
	MaxActs  int
	Research []production.Source
}

// ScreenplayOptions tunes the screenplay call.
type ScreenplayOptions struct {
	Language  string
	MinScenes int
	MaxScenes int
}

// TextModel produces structured script artifacts from prompts owned by the
// adapter implementation.
type TextModel interface {
	Breakdown(ctx context.Context, idea string, opts BreakdownOptions) (production.Breakdown, error)
	Screenplay(ctx context.Context, breakdown production.Breakdown, opts ScreenplayOptions) ([]production.Scene, error)
	Characters(ctx context.Context, scenes []production.Scene) ([]production.CharacterProfile, error)
}

// StyleGuide is the typed configuration handed to the image adapter; it
// replaces free-form prompt composition inside the core.
type StyleGuide struct {
	ArtStyle      string
	EmotionalHook string
	Genre         string
	Language      string
}

// ImageGenerator produces one visual asset per scene.
type ImageGenerator interface {
	Generate(ctx context.Context, sceneAction string, style StyleGuide, aspectRatio, sessionID string, sceneIndex int) (production.VisualAsset, error)
}

// VoiceProfile selects a narration voice for a format and language.
type VoiceProfile struct {
	Voice    string
	Language string
	Pace     float64
}

// SpeechSynthesizer turns a scene's narration into an audio segment.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, scene production.Scene, voice VoiceProfile) (production.NarrationSegment, error)
}

// QueryOptions scopes a grounded knowledge query.
type QueryOptions struct {
	Language string
	Type     string // web or knowledge-base
}

// GroundedKnowledge answers a sub-query with attributable sources.
type GroundedKnowledge interface {
	Query(ctx context.Context, subQuery string, opts QueryOptions) ([]production.Source, error)
}

// DocumentHandle addresses an uploaded reference document.
type DocumentHandle struct {
	Name string
	Path string
	Data []byte
}

// CriticalFailureHandler is invoked when an unrecoverable error occurs in a
// critical phase; it returns the user's chosen recovery action.
type CriticalFailureHandler func(ctx context.Context, err error, options []string) (string, error)
