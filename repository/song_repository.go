package repository

import (
	"context"
	"fmt"

	"StemMixer/model"

	"gorm.io/gorm"
)

// SongAnalysis 分析服务回填的字段，零值表示未知，不会覆盖已有数据
type SongAnalysis struct {
	BPM           float64
	BPMConfidence float64
	Key           string
	TimeSignature string
}

// SongRepository 歌曲数据访问接口
type SongRepository interface {
	Create(ctx context.Context, song *model.Song) error
	GetByID(ctx context.Context, id string) (*model.Song, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Song, error)
	UpdateClickTrack(ctx context.Context, id string, stems model.StemMap, meta *model.ClickMetadata) error
	UpdateTrackColors(ctx context.Context, id string, colors model.TrackColors) error
	UpdateAnalysis(ctx context.Context, id string, analysis SongAnalysis) error
}

// gormSongRepository GORM 实现
type gormSongRepository struct {
	db *gorm.DB
}

// NewGormSongRepository 创建 GORM 歌曲仓库
func NewGormSongRepository(db *gorm.DB) SongRepository {
	return &gormSongRepository{db: db}
}

// Create 创建歌曲
func (r *gormSongRepository) Create(ctx context.Context, song *model.Song) error {
	return r.db.WithContext(ctx).Create(song).Error
}

// GetByID 根据ID获取歌曲，不存在时返回 nil, nil
func (r *gormSongRepository) GetByID(ctx context.Context, id string) (*model.Song, error) {
	var song model.Song
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&song).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &song, nil
}

// ListByUser 获取用户的所有歌曲，最新的在前
func (r *gormSongRepository) ListByUser(ctx context.Context, userID string) ([]*model.Song, error) {
	var songs []*model.Song
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&songs).Error
	return songs, err
}

// UpdateClickTrack 写回 stems（含 click）和 click 元数据
func (r *gormSongRepository) UpdateClickTrack(ctx context.Context, id string, stems model.StemMap, meta *model.ClickMetadata) error {
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stems":          stems,
			"click_metadata": meta,
		})
	return checkUpdated(res, id)
}

// UpdateTrackColors 更新 track 颜色覆盖
func (r *gormSongRepository) UpdateTrackColors(ctx context.Context, id string, colors model.TrackColors) error {
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", id).
		Update("track_colors", colors)
	return checkUpdated(res, id)
}

// UpdateAnalysis 只更新非零字段
func (r *gormSongRepository) UpdateAnalysis(ctx context.Context, id string, analysis SongAnalysis) error {
	updates := analysisUpdates(analysis)
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", id).
		Updates(updates)
	return checkUpdated(res, id)
}

func analysisUpdates(a SongAnalysis) map[string]interface{} {
	updates := make(map[string]interface{})
	if a.BPM > 0 {
		updates["bpm"] = a.BPM
		updates["bpm_confidence"] = a.BPMConfidence
	}
	if a.Key != "" {
		updates["music_key"] = a.Key
	}
	if a.TimeSignature != "" {
		updates["time_signature"] = a.TimeSignature
	}
	return updates
}

func checkUpdated(res *gorm.DB, id string) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("song %s not found", id)
	}
	return nil
}
