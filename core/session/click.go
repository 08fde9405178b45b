package session

import (
	"context"
	"fmt"
	"time"

	"StemMixer/core/analysis"
	"StemMixer/core/decoder"
	"StemMixer/core/services"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/samber/lo"
)

// ClickResult is the outcome of GenerateClickTrack.
type ClickResult struct {
	Result
	ClickURL           string  `json:"clickUrl"`
	SilenceMs          int     `json:"silenceMs"`
	OnsetOffsetSeconds float64 `json:"onsetOffsetSeconds"`
}

// GenerateClickTrack renders a click track for the selected song, aligned to
// its first beat, stores it as the "click" stem and reloads the tracks.
//
// The first beat is the earliest non-zero onset among the loaded non-click
// stems. When none is known it is detected on the original mix with the fine
// onset parameters.
func (s *Session) GenerateClickTrack(ctx context.Context) (*ClickResult, error) {
	song := s.Current()
	if song == nil {
		return nil, ErrNoSongSelected
	}
	if !song.HasTempo() {
		return nil, ErrMissingTempo
	}

	silenceMs := s.firstBeat(ctx, song)
	logger.Info("generating click track",
		logger.String("song", song.ID),
		logger.Float64("bpm", song.BPM),
		logger.Int("silenceMs", silenceMs))

	resp, err := s.svc.GenerateClickTrack(ctx, services.ClickTrackRequest{
		BPM:             song.BPM,
		DurationSeconds: song.DurationSeconds,
		TimeSignature:   song.TimeSignatureOrDefault(),
		SongID:          song.ID,
		UserID:          song.UserID,
		AudioURL:        song.OriginalURL,
		SilenceMs:       silenceMs,
	})
	if err != nil {
		return nil, err
	}

	song.Stems = song.Stems.With(model.StemClick, resp.ClickURL)
	song.ClickMetadata = &model.ClickMetadata{
		Name:               "Click Track",
		BPM:                song.BPM,
		TimeSignature:      song.TimeSignatureOrDefault(),
		DurationSeconds:    song.DurationSeconds,
		GeneratedAt:        time.Now(),
		OnsetOffsetSeconds: resp.OnsetOffsetSeconds,
		SilenceMs:          silenceMs,
	}

	res := &ClickResult{
		Result:             Result{Song: song},
		ClickURL:           resp.ClickURL,
		SilenceMs:          silenceMs,
		OnsetOffsetSeconds: resp.OnsetOffsetSeconds,
	}
	if err := s.repo.UpdateClickTrack(ctx, song.ID, song.Stems, song.ClickMetadata); err != nil {
		res.Warnings = append(res.Warnings, persistWarning("click track", song.ID, err))
	}

	// 用户可能已经切换到别的歌曲
	if !s.replaceCurrent(song) {
		logger.Info("song changed while the click track was generated, not reloading",
			logger.String("song", song.ID))
		return res, nil
	}
	if err := s.load(song); err != nil {
		return nil, fmt.Errorf("click track generated but reload failed: %w", err)
	}
	return res, nil
}

// firstBeat returns the alignment offset for the click track in milliseconds.
func (s *Session) firstBeat(ctx context.Context, song *model.Song) int {
	if ms, ok := earliestOnset(s.transport.Onsets()); ok {
		return ms
	}
	if song.OriginalURL == "" || s.fetcher == nil {
		return 0
	}

	ms, err := s.detectOriginalOnset(ctx, song.OriginalURL)
	if err != nil {
		logger.Warn("onset detection on the original mix failed",
			logger.String("song", song.ID),
			logger.String("url", song.OriginalURL),
			logger.ErrorField(err))
		return 0
	}
	return ms
}

// earliestOnset picks the smallest non-zero onset of the song stems.
func earliestOnset(onsets map[string]int) (int, bool) {
	values := lo.Filter(lo.Values(lo.OmitByKeys(onsets, []string{model.StemClick, model.StemMetronome})), func(ms int, _ int) bool {
		return ms > 0
	})
	if len(values) == 0 {
		return 0, false
	}
	return lo.Min(values), true
}

func (s *Session) detectOriginalOnset(ctx context.Context, url string) (int, error) {
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	asset, err := decoder.Decode(url, data)
	if err != nil {
		return 0, err
	}
	return analysis.DetectOnset(asset.Mono(), analysis.FineOnset), nil
}
