package session

import (
	"context"
	"fmt"

	"StemMixer/core/services"
	"StemMixer/logger"
	"StemMixer/repository"
)

// AnalyzeMissing asks the analysis service for whichever of bpm, key and time
// signature the selected song lacks. Each failed analysis leaves its field
// unset and is reported as a warning.
func (s *Session) AnalyzeMissing(ctx context.Context) (*Result, error) {
	song := s.Current()
	if song == nil {
		return nil, ErrNoSongSelected
	}
	res := &Result{Song: song}

	audioURL := song.OriginalURL
	if audioURL == "" {
		res.Warnings = append(res.Warnings, "song has no original audio to analyze")
		return res, nil
	}

	var update repository.SongAnalysis
	if song.BPM <= 0 {
		if bpm, err := s.detectBPM(ctx, audioURL); err != nil {
			res.Warnings = append(res.Warnings, analysisWarning("bpm", song.ID, err))
		} else {
			update.BPM, update.BPMConfidence = bpm.BPM, bpm.Confidence
			song.BPM, song.BPMConfidence = bpm.BPM, bpm.Confidence
		}
	}
	if song.Key == "" {
		if key, err := s.svc.AnalyzeKey(ctx, audioURL); err != nil {
			res.Warnings = append(res.Warnings, analysisWarning("key", song.ID, err))
		} else {
			update.Key = key.Display()
			song.Key = update.Key
		}
	}
	if song.TimeSignature == "" {
		if ts, err := s.svc.AnalyzeTimeSignature(ctx, audioURL); err != nil {
			res.Warnings = append(res.Warnings, analysisWarning("time signature", song.ID, err))
		} else {
			update.TimeSignature = ts.TimeSignature
			song.TimeSignature = ts.TimeSignature
		}
	}

	if update == (repository.SongAnalysis{}) {
		return res, nil
	}
	s.replaceCurrent(song)
	if err := s.repo.UpdateAnalysis(ctx, song.ID, update); err != nil {
		res.Warnings = append(res.Warnings, persistWarning("analysis", song.ID, err))
	}
	return res, nil
}

// detectBPM asks the analysis service for the tempo. A non-positive tempo
// counts as a failed analysis.
func (s *Session) detectBPM(ctx context.Context, audioURL string) (*services.BPMResult, error) {
	bpm, err := s.svc.AnalyzeBPM(ctx, audioURL)
	if err != nil {
		return nil, err
	}
	if !(bpm.BPM > 0) {
		return nil, fmt.Errorf("service returned no tempo (bpm %v)", bpm.BPM)
	}
	return bpm, nil
}

func analysisWarning(field, songID string, err error) string {
	logger.Warn("song analysis failed",
		logger.String("field", field),
		logger.String("song", songID),
		logger.ErrorField(err))
	return field + " analysis failed: " + err.Error()
}
