package analysis

import (
	"math"

	"github.com/viterin/vek/vek32"
)

const (
	rmsWeight        = 1.8
	peakToPeakWeight = 0.6
	displayCurve     = 0.7
)

// Summarize reduces buf to an amplitude envelope of exactly targetLength points
// in [0,1]. Each block combines RMS and peak-to-peak so transients stay visible,
// then the envelope is normalized and passed through a soft v^0.7 curve.
// A silent buffer yields an all-zero envelope.
func Summarize(buf Buffer, targetLength int) []float32 {
	if targetLength <= 0 {
		return []float32{}
	}
	envelope := make([]float32, targetLength)
	sourceLength := len(buf.Samples)
	if sourceLength == 0 {
		return envelope
	}

	// block i covers [floor(i*L/N), floor((i+1)*L/N)), computed in integers
	tmp := make([]float32, (sourceLength+targetLength-1)/targetLength+1)

	var peak float32
	for i := 0; i < targetLength; i++ {
		start := i * sourceLength / targetLength
		end := min((i+1)*sourceLength/targetLength, sourceLength)
		if end <= start {
			continue
		}
		block := buf.Samples[start:end]

		rms := windowRMS(tmp, block)
		peakToPeak := float32(math.Abs(float64(vek32.Max(block) - vek32.Min(block))))
		amplitude := max(rms*rmsWeight, peakToPeak*peakToPeakWeight)

		envelope[i] = amplitude
		peak = max(peak, amplitude)
	}

	if peak <= 0 {
		return envelope
	}
	for i, v := range envelope {
		envelope[i] = float32(math.Pow(float64(v/peak), displayCurve))
	}
	return envelope
}
