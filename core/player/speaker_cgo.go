//go:build (linux && cgo) || windows || darwin

package player

import (
	"fmt"
	"time"

	"StemMixer/storage"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// AudioAvailable indicates whether audio playback is supported in this build.
const AudioAvailable = true

type speakerLock struct{}

func (speakerLock) Lock()   { speaker.Lock() }
func (speakerLock) Unlock() { speaker.Unlock() }

// NewLive initializes the speaker and starts playing the engine bus on it.
// The bus runs under the speaker lock, so voice changes are synchronized
// with the audio callback.
func NewLive(sampleRate int, fetcher storage.Fetcher) (*Engine, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}

	e := newEngine(sr, speakerLock{}, fetcher)
	speaker.Play(beep.StreamerFunc(e.mix))
	e.closeFn = speaker.Clear
	return e, nil
}
