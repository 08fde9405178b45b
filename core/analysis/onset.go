package analysis

import (
	"math"
	"time"

	"github.com/viterin/vek/vek32"
)

// OnsetParams configures the windowed RMS onset search.
type OnsetParams struct {
	Window    time.Duration
	Threshold float32
}

var (
	// TrackOnset is used for stem content.
	TrackOnset = OnsetParams{Window: 100 * time.Millisecond, Threshold: 0.01}
	// FineOnset is used on the original mix before generating a click track.
	FineOnset = OnsetParams{Window: 50 * time.Millisecond, Threshold: 0.02}
)

// DetectOnset returns the offset in milliseconds of the first window whose RMS
// exceeds the threshold, or 0 when no window does.
func DetectOnset(buf Buffer, p OnsetParams) int {
	ms, _ := FindOnset(buf, p)
	return ms
}

// FindOnset is DetectOnset with an explicit found flag, so callers can tell
// "attack at 0ms" apart from "nothing above the threshold".
func FindOnset(buf Buffer, p OnsetParams) (int, bool) {
	n := len(buf.Samples)
	if n == 0 || buf.SampleRate <= 0 {
		return 0, false
	}

	windowSize := int(math.Floor(p.Window.Seconds() * float64(buf.SampleRate)))
	if windowSize < 1 {
		windowSize = 1
	}

	tmp := make([]float32, windowSize)
	for i := 0; i < n; i += windowSize {
		end := min(i+windowSize, n)
		if windowRMS(tmp, buf.Samples[i:end]) > p.Threshold {
			return int(math.Round(float64(i) / float64(buf.SampleRate) * 1000)), true
		}
	}
	return 0, false
}

// windowRMS computes the RMS of w using tmp as scratch space (cap >= len(w)).
func windowRMS(tmp, w []float32) float32 {
	if len(w) == 0 {
		return 0
	}
	sq := vek32.Mul_Into(tmp[:len(w)], w, w)
	return float32(math.Sqrt(float64(vek32.Mean(sq))))
}
