package format

import (
	"testing"

	"github.com/reelforge/reelforge/config"
)

func TestRegistrySeedsBuiltins(t *testing.T) {
	r := NewRegistry()
	list := r.List()
	if len(list) != 7 {
		t.Fatalf("expected 7 built-in formats, got %d", len(list))
	}
	for _, id := range []string{YouTubeNarrator, Documentary, Advertisement, Shorts, MusicVideo, NewsPolitics, MovieAnimation} {
		if _, ok := r.Get(id); !ok {
			t.Fatalf("missing built-in format %q", id)
		}
	}
	if _, ok := r.Get("podcast"); ok {
		t.Fatalf("unexpected format registered")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("list not sorted: %q before %q", list[i-1].ID, list[i].ID)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	r := NewRegistry()
	research := false
	err := r.ApplyOverrides(map[string]config.Format{
		Shorts: {
			MaxSeconds:       90,
			CheckpointCount:  1,
			RequiresResearch: &research,
			VoiceProfiles:    map[string]string{"fr": "energetic-fr"},
		},
	})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	m, _ := r.Get(Shorts)
	if m.MaxSeconds != 90 {
		t.Fatalf("MaxSeconds = %v, want 90", m.MaxSeconds)
	}
	if m.CheckpointCount != 1 {
		t.Fatalf("CheckpointCount = %d, want 1", m.CheckpointCount)
	}
	if m.RequiresResearch {
		t.Fatalf("RequiresResearch should be overridden to false")
	}
	if m.VoiceProfiles["fr"] != "energetic-fr" {
		t.Fatalf("voice override missing: %v", m.VoiceProfiles)
	}
	// untouched fields keep their defaults
	if m.AspectRatio != "9:16" {
		t.Fatalf("AspectRatio = %q, want 9:16", m.AspectRatio)
	}
}

func TestRegisterAddsNewFormat(t *testing.T) {
	r := NewRegistry()
	meta := Metadata{
		ID: "podcast-visualizer", DisplayName: "Podcast Visualizer",
		AspectRatio: "1:1", MinSeconds: 60, MaxSeconds: 3600,
		CheckpointCount: 1, ConcurrencyLimit: 2,
	}
	if err := r.Register(meta); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok := r.Get("podcast-visualizer")
	if !ok {
		t.Fatal("registered format not found")
	}
	if got.AspectRatio != "1:1" {
		t.Fatalf("aspect ratio %q", got.AspectRatio)
	}
	// config overrides now reach the new format too
	if err := r.ApplyOverrides(map[string]config.Format{"podcast-visualizer": {MaxSeconds: 7200}}); err != nil {
		t.Fatalf("override after register: %v", err)
	}
	got, _ = r.Get("podcast-visualizer")
	if got.MaxSeconds != 7200 {
		t.Fatalf("MaxSeconds = %v, want 7200", got.MaxSeconds)
	}
}

func TestRegisterRejectsInvalidMetadata(t *testing.T) {
	valid := Metadata{
		ID: "x", AspectRatio: "16:9", MinSeconds: 10, MaxSeconds: 20,
		CheckpointCount: 1, ConcurrencyLimit: 1,
	}
	cases := map[string]func(Metadata) Metadata{
		"empty id":           func(m Metadata) Metadata { m.ID = " "; return m },
		"bad aspect ratio":   func(m Metadata) Metadata { m.AspectRatio = "4:3"; return m },
		"negative gates":     func(m Metadata) Metadata { m.CheckpointCount = -1; return m },
		"zero concurrency":   func(m Metadata) Metadata { m.ConcurrencyLimit = 0; return m },
		"inverted durations": func(m Metadata) Metadata { m.MinSeconds = 30; return m },
	}
	for name, mutate := range cases {
		if err := NewRegistry().Register(mutate(valid)); err == nil {
			t.Fatalf("%s: expected registration to fail", name)
		}
	}
	if err := NewRegistry().Register(valid); err != nil {
		t.Fatalf("valid metadata rejected: %v", err)
	}
}

func TestApplyOverridesRejectsUnknownFormat(t *testing.T) {
	r := NewRegistry()
	if err := r.ApplyOverrides(map[string]config.Format{"shortz": {MaxSeconds: 90}}); err == nil {
		t.Fatalf("expected error for unknown format id")
	}
}
