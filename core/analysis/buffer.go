// Package analysis holds the pure signal functions used by the player:
// onset detection for stem alignment and waveform envelopes for display.
package analysis

import "math"

// Buffer is a decoded mono channel with its sample rate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// DurationMs returns the buffer length in whole milliseconds.
func (b Buffer) DurationMs() int {
	if b.SampleRate <= 0 {
		return 0
	}
	return int(math.Round(float64(len(b.Samples)) / float64(b.SampleRate) * 1000))
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
