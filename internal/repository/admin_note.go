package repository

import (
	"context"

	"kortrade/internal/models"

	"gorm.io/gorm"
)

// AdminNoteRepository stores back-office memos.
type AdminNoteRepository interface {
	Create(ctx context.Context, note *models.AdminNote) error
	GetByID(ctx context.Context, id uint) (*models.AdminNote, error)
	List(ctx context.Context, targetUserID uint, limit, offset int) ([]models.AdminNote, int64, error)
	Update(ctx context.Context, note *models.AdminNote) error
	Delete(ctx context.Context, id uint) error
}

type adminNoteRepository struct {
	db *gorm.DB
}

func NewAdminNoteRepository(db *gorm.DB) AdminNoteRepository {
	return &adminNoteRepository{db: db}
}

func fillNoteAuthor(n *models.AdminNote) {
	if n.Author.ID != 0 {
		n.AuthorInfo = n.Author.Public()
	}
}

func (r *adminNoteRepository) Create(ctx context.Context, note *models.AdminNote) error {
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *adminNoteRepository) GetByID(ctx context.Context, id uint) (*models.AdminNote, error) {
	var note models.AdminNote
	if err := r.db.WithContext(ctx).Preload("Author").First(&note, id).Error; err != nil {
		return nil, mapFindErr(err, "AdminNote", id)
	}
	fillNoteAuthor(&note)
	return &note, nil
}

// List returns pinned notes first, newest first. targetUserID 0 lists all.
func (r *adminNoteRepository) List(ctx context.Context, targetUserID uint, limit, offset int) ([]models.AdminNote, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := r.db.WithContext(ctx).Model(&models.AdminNote{})
	if targetUserID != 0 {
		q = q.Where("target_user_id = ?", targetUserID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var notes []models.AdminNote
	if err := q.Preload("Author").
		Order("pinned DESC, created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notes).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	for i := range notes {
		fillNoteAuthor(&notes[i])
	}
	return notes, total, nil
}

func (r *adminNoteRepository) Update(ctx context.Context, note *models.AdminNote) error {
	if err := r.db.WithContext(ctx).
		Model(note).
		Select("title", "content", "pinned", "target_user_id").
		Updates(note).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *adminNoteRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.AdminNote{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("AdminNote", id)
	}
	return nil
}
