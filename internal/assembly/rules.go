package assembly

import (
	"fmt"
	"math"
	"strings"
)

// chapter boundaries must line up within one millisecond
const contiguityTolerance = 1e-3

// ctaWindowSeconds is how much of the tail a call-to-action overlay covers.
const ctaWindowSeconds = 5.0

// Transition describes how one clip hands off to the next.
type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"` // seconds
}

// defaultTransitions maps a format id to its house transition style.
var defaultTransitions = map[string]Transition{
	"advertisement":    {Type: "none", Duration: 0.3},
	"shorts":           {Type: "none", Duration: 0.3},
	"documentary":      {Type: "dissolve", Duration: 1.5},
	"youtube-narrator": {Type: "dissolve", Duration: 1.0},
	"music-video":      {Type: "fade", Duration: 0.5},
	"news-politics":    {Type: "slide", Duration: 1.0},
}

// DefaultTransition returns the transition style for a format, falling back
// to a one second dissolve.
func DefaultTransition(format string) Transition {
	if t, ok := defaultTransitions[format]; ok {
		return t
	}
	return Transition{Type: "dissolve", Duration: 1.0}
}

// Clip is one scene's placement on the timeline.
type Clip struct {
	SceneID     string     `json:"scene_id"`
	VisualURL   string     `json:"visual_url,omitempty"`
	AudioHandle string     `json:"audio_handle,omitempty"`
	Start       float64    `json:"start"`    // seconds
	Duration    float64    `json:"duration"` // seconds
	Transition  Transition `json:"transition"`
	Placeholder bool       `json:"placeholder,omitempty"`
	Silent      bool       `json:"silent,omitempty"`
}

// Chapter marks a navigable timeline section.
type Chapter struct {
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Overlay is text rendered over a timeline window.
type Overlay struct {
	Kind  string  `json:"kind"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Plan is the renderer-facing assembly output.
type Plan struct {
	Format   string    `json:"format"`
	Duration float64   `json:"duration"`
	Clips    []Clip    `json:"clips"`
	Chapters []Chapter `json:"chapters,omitempty"`
	Overlays []Overlay `json:"overlays,omitempty"`
	Beats    []Beat    `json:"beats,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// BuildCTA places a call-to-action overlay over the final seconds of the
// timeline. Videos shorter than the window get covered end to end.
func BuildCTA(text string, duration float64) Overlay {
	window := math.Min(ctaWindowSeconds, duration)
	return Overlay{
		Kind:  "cta",
		Text:  text,
		Start: math.Max(0, duration-window),
		End:   duration,
	}
}

// ValidateCTA checks a call-to-action overlay against the timeline: it must
// sit inside the final window and never spill past the end.
func ValidateCTA(o Overlay, duration float64) error {
	if o.Start < 0 {
		return fmt.Errorf("cta starts before the timeline: %v", o.Start)
	}
	if floor := math.Max(0, duration-ctaWindowSeconds); o.Start < floor-contiguityTolerance {
		return fmt.Errorf("cta starts at %v, before the final window at %v", o.Start, floor)
	}
	if o.End > duration+contiguityTolerance {
		return fmt.Errorf("cta ends past the timeline: %v > %v", o.End, duration)
	}
	if o.End <= o.Start {
		return fmt.Errorf("cta window is empty: [%v, %v]", o.Start, o.End)
	}
	return nil
}

// ChapterInput is a titled span candidate.
type ChapterInput struct {
	Title    string
	Duration float64 // seconds
}

// BuildChapters lays titled spans end to end. Spans with non-positive
// durations are dropped rather than producing zero-length chapters.
func BuildChapters(inputs []ChapterInput) []Chapter {
	var out []Chapter
	var cursor float64
	for i, in := range inputs {
		if in.Duration <= 0 {
			continue
		}
		title := strings.TrimSpace(in.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		out = append(out, Chapter{
			Title: title,
			Start: cursor,
			End:   cursor + in.Duration,
		})
		cursor += in.Duration
	}
	return out
}

// ValidateChapters checks that chapters tile the timeline without gaps or
// overlaps.
func ValidateChapters(chapters []Chapter, duration float64) error {
	if len(chapters) == 0 {
		return nil
	}
	if math.Abs(chapters[0].Start) > contiguityTolerance {
		return fmt.Errorf("first chapter starts at %v, not 0", chapters[0].Start)
	}
	for i := 1; i < len(chapters); i++ {
		gap := chapters[i].Start - chapters[i-1].End
		if math.Abs(gap) > contiguityTolerance {
			return fmt.Errorf("chapters %d and %d are not contiguous: gap %v", i-1, i, gap)
		}
	}
	last := chapters[len(chapters)-1].End
	if math.Abs(last-duration) > contiguityTolerance {
		return fmt.Errorf("chapters end at %v, timeline at %v", last, duration)
	}
	return nil
}
