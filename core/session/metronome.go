package session

import (
	"context"
	"errors"

	"StemMixer/core/player"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/model"
)

// MetronomeResult describes the metronome after SetMetronome.
type MetronomeResult struct {
	Enabled     bool    `json:"enabled"`
	BPM         float64 `json:"bpm,omitempty"`
	BeatsPerBar int     `json:"beatsPerBar,omitempty"`
	FirstBeatMs int     `json:"firstBeatMs"`
}

// SetMetronome turns the synthesized metronome track on or off. It counts at
// the song's bpm from its first beat and accents beat one of every bar; as a
// transport track it follows play, pause and seek, and takes volume and mute
// like any stem. It stays on across reloads until turned off or the session
// is closed.
func (s *Session) SetMetronome(ctx context.Context, enabled bool) (*MetronomeResult, error) {
	song := s.Current()
	if song == nil {
		return nil, ErrNoSongSelected
	}

	if !enabled {
		s.setMetronome(false)
		if err := s.transport.RemoveTrack(model.StemMetronome); err != nil && !errors.Is(err, transport.ErrUnknownTrack) {
			return nil, err
		}
		return &MetronomeResult{}, nil
	}

	if song.BPM <= 0 {
		return nil, ErrMissingTempo
	}
	spec := s.metronomeSpec(ctx, song)
	if err := s.transport.AddTrack(ctx, model.StemMetronome, spec.URL()); err != nil {
		return nil, err
	}
	s.setMetronome(true)

	logger.Info("metronome on",
		logger.String("song", song.ID),
		logger.Float64("bpm", spec.BPM),
		logger.Int("beatsPerBar", spec.BeatsPerBar),
		logger.Int("firstBeatMs", spec.FirstBeatMs))
	return &MetronomeResult{
		Enabled:     true,
		BPM:         spec.BPM,
		BeatsPerBar: spec.BeatsPerBar,
		FirstBeatMs: spec.FirstBeatMs,
	}, nil
}

func (s *Session) metronomeSpec(ctx context.Context, song *model.Song) player.MetronomeSpec {
	duration := s.transport.Snapshot().Duration
	if duration <= 0 {
		duration = song.DurationSeconds
	}
	return player.MetronomeSpec{
		BPM:         song.BPM,
		BeatsPerBar: player.BeatsPerBar(song.TimeSignatureOrDefault()),
		FirstBeatMs: s.firstBeat(ctx, song),
		Duration:    duration,
	}
}

func (s *Session) setMetronome(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metronome = on
}

func (s *Session) metronomeOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metronome
}
