package session

import (
	"encoding/json"
	"time"
)

// Session lifecycle status.
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// State is the authoritative record of one production run. Heavy media
// payloads never live here: phase results reference blob handles, and the
// blob bytes go through the blob store.
type State struct {
	ID           string                     `json:"id"`
	Format       string                     `json:"format"`
	Status       string                     `json:"status"`
	CurrentPhase string                     `json:"current_phase"`
	Request      json.RawMessage            `json:"request,omitempty"`
	PhaseResults map[string]json.RawMessage `json:"phase_results,omitempty"`
	Checkpoints  int                        `json:"checkpoints_used"`
	Error        string                     `json:"error,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy so callers can hold a snapshot without racing
// the store's in-memory authority.
func (s *State) Clone() *State {
	out := *s
	if s.Request != nil {
		out.Request = append(json.RawMessage(nil), s.Request...)
	}
	if s.PhaseResults != nil {
		out.PhaseResults = make(map[string]json.RawMessage, len(s.PhaseResults))
		for k, v := range s.PhaseResults {
			out.PhaseResults[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// Recoverable reports whether a session is worth offering for resume.
func (s *State) Recoverable() bool {
	switch s.Status {
	case StatusRunning, StatusPaused, StatusFailed:
		return true
	}
	return false
}

// Summary is the listing form of a session.
type Summary struct {
	ID           string    `json:"id"`
	Format       string    `json:"format"`
	Status       string    `json:"status"`
	CurrentPhase string    `json:"current_phase"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *State) summary() Summary {
	return Summary{
		ID:           s.ID,
		Format:       s.Format,
		Status:       s.Status,
		CurrentPhase: s.CurrentPhase,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
