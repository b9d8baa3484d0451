package format

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/reelforge/reelforge/config"
)

// Canonical format ids.
const (
	YouTubeNarrator = "youtube-narrator"
	Documentary     = "documentary"
	Advertisement   = "advertisement"
	Shorts          = "shorts"
	MusicVideo      = "music-video"
	NewsPolitics    = "news-politics"
	MovieAnimation  = "movie-animation"
)

// Metadata describes a production format: its output shape, research needs
// and how many interactive approval gates a run of it gets.
type Metadata struct {
	ID               string            `json:"id"`
	DisplayName      string            `json:"display_name"`
	AspectRatio      string            `json:"aspect_ratio"`
	MinSeconds       float64           `json:"min_seconds"`
	MaxSeconds       float64           `json:"max_seconds"`
	CheckpointCount  int               `json:"checkpoint_count"`
	ConcurrencyLimit int               `json:"concurrency_limit"`
	RequiresResearch bool              `json:"requires_research"`
	ResearchDepth    string            `json:"research_depth"`
	ArtStyle         string            `json:"art_style"`
	MinActs          int               `json:"min_acts"`
	MaxActs          int               `json:"max_acts"`
	VoiceProfiles    map[string]string `json:"voice_profiles,omitempty"` // language -> voice
}

// Registry holds the known formats. It is seeded with the built-in seven and
// can be adjusted per deployment through configuration overrides.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]Metadata
}

// NewRegistry seeds the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]Metadata)}
	for _, m := range builtins() {
		r.formats[m.ID] = m
	}
	return r
}

func builtins() []Metadata {
	return []Metadata{
		{
			ID: YouTubeNarrator, DisplayName: "YouTube Narrator",
			AspectRatio: "16:9", MinSeconds: 180, MaxSeconds: 900,
			CheckpointCount: 3, ConcurrencyLimit: 3,
			RequiresResearch: true, ResearchDepth: "medium",
			ArtStyle:      "realistic",
			MinActs:       3,
			MaxActs:       5,
			VoiceProfiles: map[string]string{"en": "narrator-en", "ar": "narrator-ar"},
		},
		{
			ID: Documentary, DisplayName: "Documentary",
			AspectRatio: "16:9", MinSeconds: 300, MaxSeconds: 1800,
			CheckpointCount: 4, ConcurrencyLimit: 3,
			RequiresResearch: true, ResearchDepth: "deep",
			ArtStyle:      "cinematic",
			MinActs:       3,
			MaxActs:       6,
			VoiceProfiles: map[string]string{"en": "documentary-en", "ar": "documentary-ar"},
		},
		{
			ID: Advertisement, DisplayName: "Advertisement",
			AspectRatio: "16:9", MinSeconds: 15, MaxSeconds: 60,
			CheckpointCount: 2, ConcurrencyLimit: 4,
			ArtStyle:      "polished",
			MinActs:       1,
			MaxActs:       1,
			VoiceProfiles: map[string]string{"en": "upbeat-en", "ar": "upbeat-ar"},
		},
		{
			ID: Shorts, DisplayName: "Shorts",
			AspectRatio: "9:16", MinSeconds: 15, MaxSeconds: 60,
			CheckpointCount: 2, ConcurrencyLimit: 4,
			ResearchDepth: "shallow",
			ArtStyle:      "vibrant",
			MinActs:       1,
			MaxActs:       2,
			VoiceProfiles: map[string]string{"en": "energetic-en", "ar": "energetic-ar"},
		},
		{
			ID: MusicVideo, DisplayName: "Music Video",
			AspectRatio: "16:9", MinSeconds: 120, MaxSeconds: 300,
			CheckpointCount: 3, ConcurrencyLimit: 3,
			ArtStyle: "stylized",
			MinActs:  2,
			MaxActs:  3,
		},
		{
			ID: NewsPolitics, DisplayName: "News & Politics",
			AspectRatio: "16:9", MinSeconds: 60, MaxSeconds: 600,
			CheckpointCount: 3, ConcurrencyLimit: 3,
			RequiresResearch: true, ResearchDepth: "medium",
			ArtStyle:      "editorial",
			MinActs:       2,
			MaxActs:       4,
			VoiceProfiles: map[string]string{"en": "anchor-en", "ar": "anchor-ar"},
		},
		{
			ID: MovieAnimation, DisplayName: "Animated Movie",
			AspectRatio: "16:9", MinSeconds: 600, MaxSeconds: 3600,
			CheckpointCount: 4, ConcurrencyLimit: 3,
			RequiresResearch: true, ResearchDepth: "deep",
			ArtStyle:      "animated",
			MinActs:       3,
			MaxActs:       5,
			VoiceProfiles: map[string]string{"en": "ensemble-en", "ar": "ensemble-ar"},
		},
	}
}

// Register adds or replaces a format. Together with the router's pipeline
// registration this is the whole extension surface for a new format.
func (r *Registry) Register(m Metadata) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("format id is required")
	}
	switch m.AspectRatio {
	case "16:9", "9:16", "1:1":
	default:
		return fmt.Errorf("format %s: aspect ratio %q is not 16:9, 9:16 or 1:1", m.ID, m.AspectRatio)
	}
	if m.CheckpointCount < 0 {
		return fmt.Errorf("format %s: checkpoint count %d is negative", m.ID, m.CheckpointCount)
	}
	if m.ConcurrencyLimit < 1 {
		return fmt.Errorf("format %s: concurrency limit %d must be at least 1", m.ID, m.ConcurrencyLimit)
	}
	if m.MinSeconds < 0 || m.MaxSeconds < m.MinSeconds {
		return fmt.Errorf("format %s: duration range [%v, %v] is invalid", m.ID, m.MinSeconds, m.MaxSeconds)
	}
	r.mu.Lock()
	r.formats[m.ID] = m
	r.mu.Unlock()
	return nil
}

// ApplyOverrides adjusts registered formats from configuration. Unknown ids
// are rejected so a typo never silently defines a new format.
func (r *Registry) ApplyOverrides(overrides map[string]config.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range overrides {
		m, ok := r.formats[id]
		if !ok {
			return fmt.Errorf("config overrides unknown format %q", id)
		}
		if o.AspectRatio != "" {
			m.AspectRatio = o.AspectRatio
		}
		if o.MinSeconds > 0 {
			m.MinSeconds = o.MinSeconds
		}
		if o.MaxSeconds > 0 {
			m.MaxSeconds = o.MaxSeconds
		}
		if o.CheckpointCount > 0 {
			m.CheckpointCount = o.CheckpointCount
		}
		if o.ConcurrencyLimit > 0 {
			m.ConcurrencyLimit = o.ConcurrencyLimit
		}
		if o.RequiresResearch != nil {
			m.RequiresResearch = *o.RequiresResearch
		}
		if o.ResearchDepth != "" {
			m.ResearchDepth = o.ResearchDepth
		}
		if o.ArtStyle != "" {
			m.ArtStyle = o.ArtStyle
		}
		for lang, voice := range o.VoiceProfiles {
			if m.VoiceProfiles == nil {
				m.VoiceProfiles = make(map[string]string)
			}
			m.VoiceProfiles[lang] = voice
		}
		r.formats[id] = m
	}
	return nil
}

// Get looks a format up by id.
func (r *Registry) Get(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.formats[id]
	return m, ok
}

// List returns all formats sorted by id.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.formats))
	for _, m := range r.formats {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
