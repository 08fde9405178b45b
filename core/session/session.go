// Package session drives one playback session: which song is selected, its
// stems on the transport, click-track generation and metadata write-back.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"StemMixer/core/services"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/model"
	"StemMixer/repository"
	"StemMixer/storage"
)

var (
	// ErrNoSongSelected 当前没有选中的歌曲
	ErrNoSongSelected = errors.New("no song selected")
	// ErrSongNotFound 歌曲不存在
	ErrSongNotFound = errors.New("song not found")
	// ErrMissingTempo 生成 click track 需要 bpm 和时长
	ErrMissingTempo = errors.New("song has no bpm or duration")
)

// Transport is the part of the multi-track transport the session drives.
type Transport interface {
	Load(ctx context.Context, stems model.StemMap) error
	Unload()
	AddTrack(ctx context.Context, key, url string) error
	RemoveTrack(key string) error
	SetTrackColor(key, color string) error
	Onsets() map[string]int
	Snapshot() model.TransportSnapshot
}

// Services is the set of external service calls the session makes.
type Services interface {
	GenerateClickTrack(ctx context.Context, req services.ClickTrackRequest) (*services.ClickTrackResponse, error)
	Separate(ctx context.Context, req services.SeparationRequest) (*services.SeparationResult, error)
	AnalyzeBPM(ctx context.Context, audioURL string) (*services.BPMResult, error)
	AnalyzeKey(ctx context.Context, audioURL string) (*services.KeyResult, error)
	AnalyzeTimeSignature(ctx context.Context, audioURL string) (*services.TimeSignatureResult, error)
}

// Result is returned by operations that may partially fail to persist.
type Result struct {
	Song     *model.Song `json:"song"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Session 单个播放会话
type Session struct {
	transport Transport
	repo      repository.SongRepository
	svc       Services
	fetcher   storage.Fetcher

	mu        sync.Mutex
	song      *model.Song
	cancel    context.CancelFunc
	metronome bool
}

// New creates a session with nothing selected.
func New(tr Transport, repo repository.SongRepository, svc Services, fetcher storage.Fetcher) *Session {
	return &Session{
		transport: tr,
		repo:      repo,
		svc:       svc,
		fetcher:   fetcher,
	}
}

// Current returns a copy of the selected song, or nil.
func (s *Session) Current() *model.Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil {
		return nil
	}
	cp := *s.song
	return &cp
}

// SelectSong makes id the current song and loads its stems. A newer
// selection cancels this one's load; in that case the song is returned
// without error and the newer selection wins.
func (s *Session) SelectSong(ctx context.Context, id string) (*model.Song, error) {
	song, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read song %s: %w", id, err)
	}
	if song == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrSongNotFound)
	}

	logger.Info("selecting song",
		logger.String("song", song.ID),
		logger.String("title", song.Title),
		logger.Strings("stems", song.Stems.Ordered()))

	if err := s.load(song); err != nil {
		return nil, err
	}
	return song, nil
}

// load replaces the current song and loads its stems on the transport.
func (s *Session) load(song *model.Song) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.song = song
	s.mu.Unlock()

	err := s.transport.Load(ctx, song.Stems)
	if errors.Is(err, transport.ErrSuperseded) {
		logger.Info("song load superseded", logger.String("song", song.ID))
		return nil
	}
	if err != nil {
		return err
	}

	for key, color := range song.TrackColors {
		if err := s.transport.SetTrackColor(key, color); err != nil && !errors.Is(err, transport.ErrUnknownTrack) {
			logger.Warn("failed to apply track color", logger.String("track", key), logger.ErrorField(err))
		}
	}

	if s.metronomeOn() {
		if _, err := s.SetMetronome(ctx, true); err != nil {
			logger.Warn("failed to restore metronome", logger.String("song", song.ID), logger.ErrorField(err))
		}
	}
	return nil
}

// Reload loads the current song's stems again.
func (s *Session) Reload() error {
	song := s.Current()
	if song == nil {
		return ErrNoSongSelected
	}
	return s.load(song)
}

// SetTrackColor overrides the display color of a track and persists it.
func (s *Session) SetTrackColor(ctx context.Context, key, color string) (*Result, error) {
	if err := s.transport.SetTrackColor(key, color); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.song == nil {
		s.mu.Unlock()
		return nil, ErrNoSongSelected
	}
	colors := make(model.TrackColors, len(s.song.TrackColors)+1)
	for k, v := range s.song.TrackColors {
		colors[k] = v
	}
	colors[key] = color
	s.song.TrackColors = colors
	song := *s.song
	s.mu.Unlock()

	res := &Result{Song: &song}
	if err := s.repo.UpdateTrackColors(ctx, song.ID, colors); err != nil {
		res.Warnings = append(res.Warnings, persistWarning("track color", song.ID, err))
	}
	return res, nil
}

// Close cancels any load in flight and releases the transport.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.song = nil
	s.metronome = false
	s.mu.Unlock()

	s.transport.Unload()
}

// isCurrent reports whether id is still the selected song.
func (s *Session) isCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.song != nil && s.song.ID == id
}

// replaceCurrent swaps in an updated copy of the selected song if it is still selected.
func (s *Session) replaceCurrent(song *model.Song) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.song == nil || s.song.ID != song.ID {
		return false
	}
	s.song = song
	return true
}

func persistWarning(what, songID string, err error) string {
	logger.Warn("failed to persist song update",
		logger.String("what", what),
		logger.String("song", songID),
		logger.ErrorField(err))
	return fmt.Sprintf("%s was applied but not saved: %v", what, err)
}
