package assembly

import "math"

// default window for snapping cut points onto the beat grid
const defaultSnapToleranceMs = 100

// Beat is one marker on the musical grid.
type Beat struct {
	TimeMs    int     `json:"time_ms"`
	Intensity float64 `json:"intensity"`
}

// GenerateBeats lays a beat grid over the timeline at the given tempo.
// Intensity follows a bar pattern: downbeats (every fourth) at 1.0, half-bar
// beats at 0.6, the rest at 0.3.
func GenerateBeats(bpm float64, durationSeconds float64) []Beat {
	if bpm <= 0 || durationSeconds <= 0 {
		return nil
	}
	interval := 60.0 / bpm // seconds per beat
	var beats []Beat
	for i := 0; ; i++ {
		t := float64(i) * interval
		if t > durationSeconds {
			break
		}
		intensity := 0.3
		switch {
		case i%4 == 0:
			intensity = 1.0
		case i%2 == 0:
			intensity = 0.6
		}
		beats = append(beats, Beat{
			TimeMs:    int(math.Round(t * 1000)),
			Intensity: intensity,
		})
	}
	return beats
}

// SnapToBeats moves each cut point (in milliseconds) to the nearest beat
// when one lies within toleranceMs. Zero tolerance is the identity unless a
// cut already sits exactly on a beat; a negative value uses the default.
func SnapToBeats(cutsMs []int, beats []Beat, toleranceMs int) []int {
	if toleranceMs < 0 {
		toleranceMs = defaultSnapToleranceMs
	}
	out := make([]int, len(cutsMs))
	for i, cut := range cutsMs {
		out[i] = cut
		best := toleranceMs + 1
		for _, b := range beats {
			d := cut - b.TimeMs
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
				out[i] = b.TimeMs
			}
		}
	}
	return out
}
