package pipeline

import (
	"fmt"
	"strings"

	"github.com/reelforge/reelforge/internal/production"
)

const (
	maxSpeakerRunes  = 30
	maxSpeakerTokens = 4
	// spoken narration averages roughly this many words per second
	wordsPerSecond = 2.5
)

// RepairDialogue normalises model-produced dialogue in place of rejecting
// it. Lines without text are dropped, and speaker labels that are clearly
// leaked prose (too long or too many words) collapse to "Narrator". Returns
// the repaired scenes plus human-readable warnings about what changed.
func RepairDialogue(scenes []production.Scene) ([]production.Scene, []string) {
	var warnings []string
	for si := range scenes {
		scene := &scenes[si]
		kept := scene.Dialogue[:0]
		for _, line := range scene.Dialogue {
			text := strings.TrimSpace(line.Text)
			if text == "" {
				warnings = append(warnings,
					fmt.Sprintf("scene %s: dropped empty dialogue line from %q", scene.ID, line.Speaker))
				continue
			}
			line.Text = text
			speaker := strings.TrimSpace(line.Speaker)
			if speaker == "" || len([]rune(speaker)) > maxSpeakerRunes || len(strings.Fields(speaker)) > maxSpeakerTokens {
				if speaker != "" {
					warnings = append(warnings,
						fmt.Sprintf("scene %s: speaker %q looks like prose, reassigned to Narrator", scene.ID, truncate(speaker, 40)))
				}
				line.Speaker = "Narrator"
			} else {
				line.Speaker = speaker
			}
			kept = append(kept, line)
		}
		scene.Dialogue = kept
	}
	return scenes, warnings
}

// ValidateWordCount checks the script's spoken word count against the
// format's duration range at a words-per-second speaking pace. Violations
// warn; they never abort a run.
func ValidateWordCount(scenes []production.Scene, minSeconds, maxSeconds float64) []string {
	words := 0
	for _, s := range scenes {
		words += len(strings.Fields(s.Narration()))
	}
	var warnings []string
	if floor := int(minSeconds * wordsPerSecond); words < floor {
		warnings = append(warnings,
			fmt.Sprintf("script is %d words, too short for a %.0fs minimum (about %d needed)", words, minSeconds, floor))
	}
	if ceil := int(maxSeconds * wordsPerSecond); words > ceil {
		warnings = append(warnings,
			fmt.Sprintf("script is %d words, too long for a %.0fs maximum (about %d fit)", words, maxSeconds, ceil))
	}
	return warnings
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
