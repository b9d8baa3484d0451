package assembly

import (
	"fmt"

	"github.com/reelforge/reelforge/internal/production"
)

// silentClipSeconds is the fallback duration for a scene whose narration
// never materialised.
const silentClipSeconds = 3.0

// BuildInput carries everything the plan builder needs. Visuals and
// narration are keyed by scene id; missing entries degrade gracefully
// instead of failing the run.
type BuildInput struct {
	Format          string
	Scenes          []production.Scene
	Visuals         map[string]production.VisualAsset
	Narration       map[string]production.NarrationSegment
	CTAText         string
	WithChapters    bool
	BPM             float64
	SnapToleranceMs int // 0 means the 100ms default
}

// DegradationResult reports what survived the asset-availability filter.
// Partial flags a usable timeline that is missing some of its assets.
type DegradationResult struct {
	Success       bool     `json:"success"`
	Partial       bool     `json:"partial"`
	Clips         []Clip   `json:"clips"`
	MissingAssets []string `json:"missing_assets,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// AssembleWithDegradation filters clips down to the assets that actually
// exist. Clips without a visual (transitions, overlays, silent spacers)
// always pass; a clip with a visual survives only when its scene id is in
// the available set. Success means at least one clip survived.
func AssembleWithDegradation(clips []Clip, availableAssetIDs map[string]bool) DegradationResult {
	var out DegradationResult
	for _, c := range clips {
		if c.VisualURL == "" || availableAssetIDs[c.SceneID] {
			out.Clips = append(out.Clips, c)
			continue
		}
		out.MissingAssets = append(out.MissingAssets, c.SceneID)
		out.Errors = append(out.Errors, fmt.Sprintf("asset for scene %s is unavailable", c.SceneID))
	}
	out.Success = len(out.Clips) > 0
	out.Partial = out.Success && len(out.MissingAssets) > 0
	return out
}

// Build assembles the renderer plan from whatever the earlier phases
// produced. A missing visual becomes a placeholder clip and a missing
// narration becomes a silent clip; both are reported as warnings so the
// caller can surface them.
func Build(in BuildInput) (*Plan, error) {
	if len(in.Scenes) == 0 {
		return nil, fmt.Errorf("no scenes to assemble")
	}
	transition := DefaultTransition(in.Format)
	plan := &Plan{Format: in.Format}

	var cursor float64
	var chapterInputs []ChapterInput
	for _, scene := range in.Scenes {
		clip := Clip{
			SceneID:    scene.ID,
			Start:      cursor,
			Transition: transition,
		}
		if seg, ok := in.Narration[scene.ID]; ok && seg.AudioDuration > 0 {
			clip.AudioHandle = seg.AudioHandle
			clip.Duration = seg.AudioDuration
		} else {
			clip.Silent = true
			clip.Duration = silentClipSeconds
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("scene %s has no narration, using a %.0fs silent clip", scene.ID, silentClipSeconds))
		}
		if asset, ok := in.Visuals[scene.ID]; ok && !asset.IsPlaceholder {
			clip.VisualURL = asset.URL
		} else {
			clip.Placeholder = true
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("scene %s has no visual, using a placeholder", scene.ID))
		}
		plan.Clips = append(plan.Clips, clip)
		chapterInputs = append(chapterInputs, ChapterInput{Title: scene.Heading, Duration: clip.Duration})
		cursor += clip.Duration
	}
	plan.Duration = cursor

	if in.WithChapters {
		plan.Chapters = BuildChapters(chapterInputs)
		if err := ValidateChapters(plan.Chapters, plan.Duration); err != nil {
			return nil, fmt.Errorf("chapter layout: %w", err)
		}
	}
	if in.CTAText != "" {
		cta := BuildCTA(in.CTAText, plan.Duration)
		if err := ValidateCTA(cta, plan.Duration); err != nil {
			return nil, fmt.Errorf("cta layout: %w", err)
		}
		plan.Overlays = append(plan.Overlays, cta)
	}
	if in.BPM > 0 {
		plan.Beats = GenerateBeats(in.BPM, plan.Duration)
		cuts := make([]int, len(plan.Clips))
		for i, c := range plan.Clips {
			cuts[i] = int(c.Start * 1000)
		}
		tolerance := in.SnapToleranceMs
		if tolerance == 0 {
			tolerance = defaultSnapToleranceMs
		}
		snapped := SnapToBeats(cuts, plan.Beats, tolerance)
		for i := range plan.Clips {
			delta := float64(snapped[i])/1000 - plan.Clips[i].Start
			if delta == 0 {
				continue
			}
			plan.Clips[i].Start += delta
			// the previous clip absorbs the shift so the timeline stays
			// contiguous
			if i > 0 {
				plan.Clips[i-1].Duration += delta
			}
		}
	}
	return plan, nil
}
