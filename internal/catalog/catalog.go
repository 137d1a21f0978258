// Package catalog reads the retrieval tables and maintains the persistence
// markers that prove data survives restarts.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vidstore/internal/util"
)

type Video struct {
	VideoID                string `gorm:"column:video_id;primaryKey"`
	OriginalFilename       string
	CompressedFilename     *string
	DurationSeconds        float64
	FPS                    float64 `gorm:"column:fps"`
	CompressedFileSizeByte *int64  `gorm:"column:compressed_file_size_bytes"`
	KeyframesAnalyzedCount int
	AnalysisStatus         string
	ErrorMessage           *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (Video) TableName() string { return "videos" }

// VideoMoment omits the array, vector and JSONB columns; the catalog only
// counts moments.
type VideoMoment struct {
	MomentID          string `gorm:"column:moment_id;primaryKey"`
	VideoID           string
	FrameIdentifier   string
	TimestampSeconds  float64
	KeyframeImagePath *string
	ExtractionSuccess bool
	CreatedAt         time.Time
}

func (VideoMoment) TableName() string { return "video_moments" }

type Marker struct {
	Token     string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (Marker) TableName() string { return "vidstore_markers" }

type Stats struct {
	Videos          int64            `json:"videos"`
	Moments         int64            `json:"moments"`
	EmbeddedMoments int64            `json:"moments_with_embedding"`
	VectorVersion   string           `json:"vector_version,omitempty"`
	VideosByStatus  map[string]int64 `json:"videos_by_status,omitempty"`
}

type Catalog struct {
	db *gorm.DB
}

func Open(databaseURL string) (*Catalog, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  databaseURL,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	db := c.db.WithContext(ctx)
	var s Stats

	if err := db.Model(&Video{}).Count(&s.Videos).Error; err != nil {
		return Stats{}, fmt.Errorf("count videos: %w", err)
	}
	if err := db.Model(&VideoMoment{}).Count(&s.Moments).Error; err != nil {
		return Stats{}, fmt.Errorf("count moments: %w", err)
	}
	if err := db.Model(&VideoMoment{}).Where("clip_embedding IS NOT NULL").Count(&s.EmbeddedMoments).Error; err != nil {
		return Stats{}, fmt.Errorf("count embedded moments: %w", err)
	}

	var rows []struct {
		AnalysisStatus string
		Count          int64
	}
	if err := db.Model(&Video{}).Select("analysis_status, count(*) AS count").Group("analysis_status").Scan(&rows).Error; err != nil {
		return Stats{}, fmt.Errorf("group videos by status: %w", err)
	}
	if len(rows) > 0 {
		s.VideosByStatus = make(map[string]int64, len(rows))
		for _, r := range rows {
			s.VideosByStatus[r.AnalysisStatus] = r.Count
		}
	}

	err := db.Raw("SELECT extversion FROM pg_extension WHERE extname = ?", "vector").Row().Scan(&s.VectorVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("look up vector extension: %w", err)
	}
	return s, nil
}

// WriteMarker inserts a fresh random marker and returns its token.
func (c *Catalog) WriteMarker(ctx context.Context) (string, error) {
	token, err := util.RandomToken(24)
	if err != nil {
		return "", err
	}
	if err := c.db.WithContext(ctx).Create(&Marker{Token: token, CreatedAt: time.Now().UTC()}).Error; err != nil {
		return "", fmt.Errorf("write marker: %w", err)
	}
	return token, nil
}

func (c *Catalog) HasMarker(ctx context.Context, token string) (bool, error) {
	var m Marker
	err := c.db.WithContext(ctx).Where("token = ?", token).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read marker: %w", err)
	}
	return true, nil
}
