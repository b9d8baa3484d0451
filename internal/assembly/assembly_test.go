package assembly

import (
	"math"
	"strings"
	"testing"

	"github.com/reelforge/reelforge/internal/production"
)

func TestDefaultTransitionTable(t *testing.T) {
	cases := map[string]Transition{
		"advertisement":    {Type: "none", Duration: 0.3},
		"shorts":           {Type: "none", Duration: 0.3},
		"documentary":      {Type: "dissolve", Duration: 1.5},
		"youtube-narrator": {Type: "dissolve", Duration: 1.0},
		"music-video":      {Type: "fade", Duration: 0.5},
		"news-politics":    {Type: "slide", Duration: 1.0},
		"movie-animation":  {Type: "dissolve", Duration: 1.0},
		"unknown":          {Type: "dissolve", Duration: 1.0},
	}
	for format, want := range cases {
		if got := DefaultTransition(format); got != want {
			t.Fatalf("%s: got %+v, want %+v", format, got, want)
		}
	}
}

func TestBuildCTACoversTail(t *testing.T) {
	o := BuildCTA("Subscribe!", 120)
	if o.Start != 115 || o.End != 120 {
		t.Fatalf("cta window [%v, %v], want [115, 120]", o.Start, o.End)
	}
	if err := ValidateCTA(o, 120); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestBuildCTAShortTimeline(t *testing.T) {
	// a three second video gets covered end to end, never a negative start
	o := BuildCTA("Buy now", 3)
	if o.Start != 0 || o.End != 3 {
		t.Fatalf("cta window [%v, %v], want [0, 3]", o.Start, o.End)
	}
	if err := ValidateCTA(o, 3); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateCTARejectsEarlyStart(t *testing.T) {
	// an overlay at the head of a long timeline is not a call to action
	if err := ValidateCTA(Overlay{Kind: "cta", Text: "Subscribe", Start: 0, End: 5}, 30); err == nil {
		t.Fatal("cta outside the final window must fail validation")
	}
	if err := ValidateCTA(Overlay{Kind: "cta", Text: "Subscribe", Start: 25, End: 30}, 30); err != nil {
		t.Fatalf("cta in the final window rejected: %v", err)
	}
}

func TestBuildChaptersSkipsEmptySpans(t *testing.T) {
	chapters := BuildChapters([]ChapterInput{
		{Title: "Intro", Duration: 10},
		{Title: "Broken", Duration: 0},
		{Title: "Negative", Duration: -4},
		{Title: "Body", Duration: 25.5},
		{Title: "", Duration: 5},
	})
	if len(chapters) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(chapters))
	}
	if chapters[1].Start != 10 || chapters[1].End != 35.5 {
		t.Fatalf("second chapter [%v, %v]", chapters[1].Start, chapters[1].End)
	}
	if chapters[2].Title != "Chapter 5" {
		t.Fatalf("untitled chapter got %q", chapters[2].Title)
	}
	if err := ValidateChapters(chapters, 40.5); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateChaptersDetectsGap(t *testing.T) {
	chapters := []Chapter{
		{Title: "A", Start: 0, End: 10},
		{Title: "B", Start: 10.5, End: 20},
	}
	if err := ValidateChapters(chapters, 20); err == nil {
		t.Fatal("expected gap to fail validation")
	}
	// a millisecond of drift is tolerated
	chapters[1].Start = 10.0005
	if err := ValidateChapters(chapters, 20); err != nil {
		t.Fatalf("sub-tolerance drift rejected: %v", err)
	}
}

func TestGenerateBeatsGridAndIntensity(t *testing.T) {
	// 120 bpm is a beat every 500ms
	beats := GenerateBeats(120, 2.0)
	if len(beats) != 5 {
		t.Fatalf("expected 5 beats, got %d", len(beats))
	}
	wantTimes := []int{0, 500, 1000, 1500, 2000}
	wantIntensity := []float64{1.0, 0.3, 0.6, 0.3, 1.0}
	for i, b := range beats {
		if b.TimeMs != wantTimes[i] {
			t.Fatalf("beat %d at %dms, want %dms", i, b.TimeMs, wantTimes[i])
		}
		if b.Intensity != wantIntensity[i] {
			t.Fatalf("beat %d intensity %v, want %v", i, b.Intensity, wantIntensity[i])
		}
	}
}

func TestGenerateBeatsRoundsToMilliseconds(t *testing.T) {
	// 90 bpm is 666.666...ms per beat, rounded per marker
	beats := GenerateBeats(90, 2.0)
	want := []int{0, 667, 1333, 2000}
	if len(beats) != len(want) {
		t.Fatalf("expected %d beats, got %d", len(want), len(beats))
	}
	for i, b := range beats {
		if b.TimeMs != want[i] {
			t.Fatalf("beat %d at %dms, want %dms", i, b.TimeMs, want[i])
		}
	}
}

func TestSnapToBeats(t *testing.T) {
	beats := GenerateBeats(120, 4.0) // grid at 0, 500, 1000, ...
	cuts := []int{480, 740, 1002, 3000}
	snapped := SnapToBeats(cuts, beats, 100)
	want := []int{500, 740, 1000, 3000}
	for i := range want {
		if snapped[i] != want[i] {
			t.Fatalf("cut %d snapped to %d, want %d", cuts[i], snapped[i], want[i])
		}
	}
}

func TestSnapToBeatsIsIdempotent(t *testing.T) {
	beats := GenerateBeats(100, 10)
	cuts := []int{130, 2570, 4190, 7333}
	once := SnapToBeats(cuts, beats, 100)
	twice := SnapToBeats(once, beats, 100)
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("snapping moved an already snapped cut: %d -> %d", once[i], twice[i])
		}
	}
}

func TestSnapToBeatsZeroToleranceIsIdentity(t *testing.T) {
	beats := GenerateBeats(120, 4.0) // grid at 0, 500, 1000, ...
	cuts := []int{480, 500, 1002, 3000}
	snapped := SnapToBeats(cuts, beats, 0)
	for i, cut := range cuts {
		if snapped[i] != cut {
			t.Fatalf("zero tolerance moved cut %d -> %d", cut, snapped[i])
		}
	}
}

func TestSnapToBeatsNegativeToleranceUsesDefault(t *testing.T) {
	beats := GenerateBeats(120, 4.0)
	snapped := SnapToBeats([]int{480}, beats, -1)
	if snapped[0] != 500 {
		t.Fatalf("default tolerance should snap 480 -> 500, got %d", snapped[0])
	}
}

func testScenes(n int) []production.Scene {
	out := make([]production.Scene, n)
	for i := range out {
		out[i] = production.Scene{
			ID:      string(rune('a' + i)),
			Number:  i + 1,
			Heading: "Scene",
			Action:  "Something happens.",
		}
	}
	return out
}

func TestBuildDegradesMissingAssets(t *testing.T) {
	scenes := testScenes(3)
	in := BuildInput{
		Format: "documentary",
		Scenes: scenes,
		Visuals: map[string]production.VisualAsset{
			scenes[0].ID: {SceneID: scenes[0].ID, URL: "https://cdn.example/vis-a.png"},
		},
		Narration: map[string]production.NarrationSegment{
			scenes[0].ID: {SceneID: scenes[0].ID, AudioHandle: "aud-a", AudioDuration: 8},
			scenes[2].ID: {SceneID: scenes[2].ID, AudioHandle: "aud-c", AudioDuration: 6},
		},
		WithChapters: true,
	}
	plan, err := Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(plan.Clips))
	}
	if plan.Clips[0].Placeholder || plan.Clips[0].Silent {
		t.Fatal("fully provisioned scene degraded")
	}
	if !plan.Clips[1].Placeholder || !plan.Clips[1].Silent {
		t.Fatal("scene with nothing must be placeholder and silent")
	}
	if plan.Clips[1].Duration != silentClipSeconds {
		t.Fatalf("silent clip duration %v", plan.Clips[1].Duration)
	}
	if !plan.Clips[2].Placeholder || plan.Clips[2].Silent {
		t.Fatal("scene with audio but no visual degraded wrong")
	}
	if want := 8 + silentClipSeconds + 6; math.Abs(plan.Duration-want) > 1e-9 {
		t.Fatalf("duration %v, want %v", plan.Duration, want)
	}
	if len(plan.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(plan.Warnings), plan.Warnings)
	}
	if err := ValidateChapters(plan.Chapters, plan.Duration); err != nil {
		t.Fatalf("chapters: %v", err)
	}
	for _, c := range plan.Clips {
		if c.Transition.Type != "dissolve" || c.Transition.Duration != 1.5 {
			t.Fatalf("documentary transition %+v", c.Transition)
		}
	}
}

func TestAssembleWithDegradationFiltersByAvailability(t *testing.T) {
	clips := []Clip{
		{SceneID: "a", VisualURL: "https://cdn.example/a.png", Duration: 5},
		{SceneID: "b", VisualURL: "https://cdn.example/b.png", Duration: 5},
		{SceneID: "spacer", Duration: 1}, // no visual, always passes
	}
	res := AssembleWithDegradation(clips, map[string]bool{"a": true})
	if !res.Success {
		t.Fatal("expected success with surviving clips")
	}
	if !res.Partial {
		t.Fatal("expected partial with a missing asset")
	}
	if len(res.Clips) != 2 {
		t.Fatalf("expected 2 surviving clips, got %d", len(res.Clips))
	}
	if res.Clips[0].SceneID != "a" || res.Clips[1].SceneID != "spacer" {
		t.Fatalf("wrong survivors: %+v", res.Clips)
	}
	if len(res.MissingAssets) != 1 || res.MissingAssets[0] != "b" {
		t.Fatalf("missing assets %v, want [b]", res.MissingAssets)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", res.Errors)
	}
}

func TestAssembleWithDegradationNothingAvailable(t *testing.T) {
	clips := []Clip{
		{SceneID: "a", VisualURL: "https://cdn.example/a.png", Duration: 5},
	}
	res := AssembleWithDegradation(clips, nil)
	if res.Success || res.Partial {
		t.Fatalf("expected total failure, got %+v", res)
	}
	if len(res.Clips) != 0 {
		t.Fatalf("no clip should survive, got %d", len(res.Clips))
	}
}

func TestBuildWithCTAAndBeats(t *testing.T) {
	scenes := testScenes(2)
	narration := map[string]production.NarrationSegment{
		scenes[0].ID: {SceneID: scenes[0].ID, AudioHandle: "a", AudioDuration: 4.02},
		scenes[1].ID: {SceneID: scenes[1].ID, AudioHandle: "b", AudioDuration: 5},
	}
	visuals := map[string]production.VisualAsset{
		scenes[0].ID: {SceneID: scenes[0].ID, URL: "https://cdn.example/v0.png"},
		scenes[1].ID: {SceneID: scenes[1].ID, URL: "https://cdn.example/v1.png"},
	}
	plan, err := Build(BuildInput{
		Format:    "music-video",
		Scenes:    scenes,
		Visuals:   visuals,
		Narration: narration,
		CTAText:   "Stream the album",
		BPM:       120,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Overlays) != 1 || plan.Overlays[0].Kind != "cta" {
		t.Fatalf("overlays %+v", plan.Overlays)
	}
	if len(plan.Beats) == 0 {
		t.Fatal("expected a beat grid")
	}
	// the 4020ms cut snaps onto the 4000ms beat
	if got := plan.Clips[1].Start; math.Abs(got-4.0) > 1e-9 {
		t.Fatalf("second clip starts at %v, want 4.0", got)
	}
	// the first clip absorbed the shift
	if got := plan.Clips[0].Duration; math.Abs(got-4.0) > 1e-9 {
		t.Fatalf("first clip duration %v, want 4.0", got)
	}
}

func TestBuildRejectsEmptyScenes(t *testing.T) {
	if _, err := Build(BuildInput{Format: "shorts"}); err == nil {
		t.Fatal("expected error for empty scene list")
	}
	if _, err := Build(BuildInput{Format: "shorts"}); err != nil && !strings.Contains(err.Error(), "no scenes") {
		t.Fatalf("unexpected error: %v", err)
	}
}
