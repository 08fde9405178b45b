package transport

import (
	"context"

	"StemMixer/core/analysis"
	"StemMixer/model"
)

// Handle is one loaded, seekable stem inside the audio engine.
// Times are in seconds.
type Handle interface {
	Play() error
	Pause()
	Seek(seconds float64) error
	Position() float64
	Duration() float64
	// SetGain sets the linear output gain, 0 is silent.
	SetGain(gain float64)
	// SetPan sets the stereo position in [-1, 1].
	SetPan(pan float64)
	// OnEnded registers a callback fired from the audio goroutine when the
	// stem runs out of samples.
	OnEnded(fn func())
	// Samples returns the decoded first channel, used for analysis.
	Samples() analysis.Buffer
	Close() error
}

// Source opens a stem URL as a Handle.
type Source interface {
	Open(ctx context.Context, url string) (Handle, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, url string) (Handle, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context, url string) (Handle, error) {
	return f(ctx, url)
}

// AnalysisCache stores envelope and onset results keyed by asset URL.
type AnalysisCache interface {
	Get(url string) (model.TrackAnalysis, bool)
	Put(ctx context.Context, a model.TrackAnalysis) error
}
