package repository

import (
	"context"
	"errors"
	"fmt"

	"SliceFM/model"

	"gorm.io/gorm"
)

// GormTrackRepository MySQL 中的曲目索引
type GormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) *GormTrackRepository {
	return &GormTrackRepository{db: db}
}

// GetTrackByID 根据ID获取曲目
func (r *GormTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	var rec model.TrackRecord
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec.ToTrack(), nil
}

// ListTracks 按 ID 顺序返回全部曲目
func (r *GormTrackRepository) ListTracks(ctx context.Context) ([]*model.Track, error) {
	var recs []model.TrackRecord
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	tracks := make([]*model.Track, 0, len(recs))
	for i := range recs {
		tracks = append(tracks, recs[i].ToTrack())
	}
	return tracks, nil
}

// ImportTracks 在一个事务中写入曲目，返回写入条数
func (r *GormTrackRepository) ImportTracks(ctx context.Context, tracks []*model.Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}
	recs := make([]*model.TrackRecord, 0, len(tracks))
	for _, t := range tracks {
		recs = append(recs, model.NewTrackRecord(t))
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(recs, 100).Error
	})
	if err != nil {
		return 0, fmt.Errorf("import tracks: %w", err)
	}
	return len(recs), nil
}
