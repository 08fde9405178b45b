package session

import (
	"context"
	"fmt"

	"StemMixer/core/services"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/google/uuid"
)

// SeparateRequest is an upload to split into stems.
type SeparateRequest struct {
	services.SeparationRequest
	Title  string
	Artist string
}

// Separate sends an upload to the separation service and stores the
// resulting song. The tempo is detected right away when the service can.
func (s *Session) Separate(ctx context.Context, req SeparateRequest) (*Result, error) {
	if req.SongID == "" {
		req.SongID = uuid.NewString()
	}

	out, err := s.svc.Separate(ctx, req.SeparationRequest)
	if err != nil {
		return nil, err
	}
	if len(out.Stems) == 0 {
		return nil, &services.Error{Op: "separate", Message: "service returned no stems"}
	}

	song := &model.Song{
		ID:             req.SongID,
		UserID:         req.UserID,
		Title:          req.Title,
		Artist:         req.Artist,
		OriginalURL:    out.OriginalURL,
		Stems:          model.StemMap(out.Stems),
		SeparationType: out.SeparationType,
		TaskID:         out.TaskID,
	}
	if out.SongID != "" {
		song.ID = out.SongID
	}
	if song.Title == "" {
		song.Title = req.Filename
	}

	res := &Result{Song: song}
	if song.OriginalURL != "" {
		if bpm, err := s.detectBPM(ctx, song.OriginalURL); err != nil {
			res.Warnings = append(res.Warnings, analysisWarning("bpm", song.ID, err))
		} else {
			song.BPM, song.BPMConfidence = bpm.BPM, bpm.Confidence
		}
	}

	if err := s.repo.Create(ctx, song); err != nil {
		return nil, fmt.Errorf("failed to store separated song: %w", err)
	}
	logger.Info("song separated",
		logger.String("song", song.ID),
		logger.String("task", song.TaskID),
		logger.Strings("stems", song.Stems.Ordered()))
	return res, nil
}
