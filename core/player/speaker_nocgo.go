//go:build !((linux && cgo) || windows || darwin)

package player

import (
	"sync"
	"time"

	"StemMixer/logger"
	"StemMixer/storage"

	"github.com/gopxl/beep/v2"
)

// AudioAvailable indicates whether audio playback is supported in this build.
// Audio requires CGO for native sound libraries.
const AudioAvailable = false

// NewLive returns an engine driven by a wall-clock ticker instead of a sound
// card. Positions advance in real time and the mixed output is discarded.
func NewLive(sampleRate int, fetcher storage.Fetcher) (*Engine, error) {
	sr := beep.SampleRate(sampleRate)
	e := newEngine(sr, &sync.Mutex{}, fetcher)

	const period = 100 * time.Millisecond
	done := make(chan struct{})
	var once sync.Once
	e.closeFn = func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		out := make([][2]float64, sr.N(period))
		bus := e.Mixdown()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Stream(out)
			}
		}
	}()

	logger.Warn("built without audio output, playback is silent")
	return e, nil
}
