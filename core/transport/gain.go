package transport

import (
	"math"

	"github.com/samber/lo"
)

// MixState is the part of a track that decides how loud it is.
type MixState struct {
	Key    string
	Muted  bool
	Solo   bool
	Volume float64
}

// ResolveGains turns mute/solo/volume flags into the effective gain of each track.
// When any track is soloed only solo tracks are audible, at their own volume;
// otherwise a track plays at its volume unless muted. The master volume
// multiplies every result and a muted master silences everything.
func ResolveGains(tracks []MixState, masterVolume float64, masterMuted bool) map[string]float64 {
	anySolo := lo.SomeBy(tracks, func(t MixState) bool { return t.Solo })
	master := clamp01(masterVolume)
	if masterMuted {
		master = 0
	}

	gains := make(map[string]float64, len(tracks))
	for _, t := range tracks {
		g := clamp01(t.Volume)
		switch {
		case anySolo && !t.Solo:
			g = 0
		case !anySolo && t.Muted:
			g = 0
		}
		gains[t.Key] = g * master
	}
	return gains
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampPan(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
