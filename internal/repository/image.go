package repository

import (
	"context"

	"kortrade/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImageRepository stores upload metadata keyed by content hash.
type ImageRepository interface {
	// Save is idempotent per hash: a repeat upload returns the first row.
	Save(ctx context.Context, image *models.Image) (*models.Image, error)
	GetByHash(ctx context.Context, hash string) (*models.Image, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Image, error)
}

type imageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

var onHashConflict = clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}

func (r *imageRepository) Save(ctx context.Context, image *models.Image) (*models.Image, error) {
	if err := r.db.WithContext(ctx).Clauses(onHashConflict).Create(image).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	// The insert may have been skipped; read back the stored row.
	return r.GetByHash(ctx, image.Hash)
}

func (r *imageRepository) GetByHash(ctx context.Context, hash string) (*models.Image, error) {
	var image models.Image
	if err := r.db.WithContext(ctx).Where("hash = ?", hash).Take(&image).Error; err != nil {
		return nil, mapFindErr(err, "Image", hash)
	}
	return &image, nil
}

// ListByUser pages a member's uploads, newest first.
func (r *imageRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Image, error) {
	limit, offset = clampPage(limit, offset)
	images := make([]models.Image, 0, limit)
	err := readDB(r.db).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&images).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return images, nil
}
