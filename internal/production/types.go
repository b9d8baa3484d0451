package production

import (
	"strings"
	"time"
)

// Breakdown is the first structured output of the script phase: the idea
// split into narrative acts.
type Breakdown struct {
	Idea     string `json:"idea"`
	Genre    string `json:"genre,omitempty"`
	Language string `json:"language,omitempty"`
	Acts     []Act  `json:"acts"`
}

// Act is a single narrative act within a breakdown.
type Act struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Synopsis      string `json:"synopsis"`
	EmotionalHook string `json:"emotional_hook,omitempty"`
}

// DialogueLine is one spoken line within a scene.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Scene is the per-scene unit of a screenplay.
type Scene struct {
	ID                string         `json:"id"`
	Number            int            `json:"scene_number"`
	Heading           string         `json:"heading"`
	Action            string         `json:"action"`
	Dialogue          []DialogueLine `json:"dialogue,omitempty"`
	CharactersPresent []string       `json:"characters_present,omitempty"`
}

// Narration returns the text spoken over a scene: dialogue joined in order,
// falling back to the action line when the scene has no dialogue.
func (s Scene) Narration() string {
	if len(s.Dialogue) == 0 {
		return s.Action
	}
	parts := make([]string, 0, len(s.Dialogue))
	for _, d := range s.Dialogue {
		parts = append(parts, d.Text)
	}
	return strings.Join(parts, " ")
}

// CharacterProfile describes a recurring character for visual consistency.
type CharacterProfile struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	VisualDescription string `json:"visual_description"`
	FacialTags        string `json:"facial_tags,omitempty"` // at most 5 comma-separated keywords
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
}

// NarrationSegment is the audio output for one scene. Audio holds raw bytes
// and is never persisted with the session row; it travels to the blob
// collection keyed by session and scene.
type NarrationSegment struct {
	SceneID       string  `json:"scene_id"`
	AudioHandle   string  `json:"audio_handle,omitempty"`
	Audio         []byte  `json:"-"`
	AudioDuration float64 `json:"audio_duration"` // seconds, > 0
	Transcript    string  `json:"transcript"`
}

// Visual asset types.
const (
	VisualTypeImage = "image"
	VisualTypeVideo = "video"
)

// VisualAsset is the visual output for one scene. A placeholder asset
// (IsPlaceholder true, empty URL) is a legal value after a tolerated
// fan-out failure.
type VisualAsset struct {
	SceneID       string `json:"scene_id"`
	URL           string `json:"url"`
	Type          string `json:"type"` // image or video
	IsAnimated    bool   `json:"is_animated,omitempty"`
	CachedBlobKey string `json:"cached_blob_key,omitempty"`
	CachedBlob    []byte `json:"-"`
	IsPlaceholder bool   `json:"is_placeholder,omitempty"`
}

// Placeholder returns the placeholder asset recorded for a scene whose
// visual generation failed but was tolerated.
func Placeholder(sceneID string) VisualAsset {
	return VisualAsset{SceneID: sceneID, Type: VisualTypeImage, IsPlaceholder: true}
}

// Source types understood by the research service. Reference sources come
// from user-uploaded documents and always outrank query sources.
const (
	SourceTypeWeb           = "web"
	SourceTypeKnowledgeBase = "knowledge-base"
	SourceTypeReference     = "reference"
)

// Relevance bounds: reference chunks carry ReferenceRelevance so they
// dominate every tie; query sources are capped below it.
const (
	ReferenceRelevance = 1.0
	MaxQueryRelevance  = 0.85
)

// Source is a single piece of grounded information.
type Source struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url,omitempty"`
	Type      string    `json:"type"`
	Relevance float64   `json:"relevance"` // 0.0 to 1.0
	Language  string    `json:"language,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}
