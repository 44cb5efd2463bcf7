package repository

import (
	"context"
	"time"

	"kortrade/internal/models"

	"gorm.io/gorm"
)

// ActivityLogFilter narrows the admin activity log view.
type ActivityLogFilter struct {
	ActorID    uint
	Action     string // exact action or prefix ending in '.', e.g. "admin."
	TargetType string
	TargetID   uint
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// ActivityLogRepository persists and queries audit rows.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error)
}

type activityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *activityLogRepository) List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.ActivityLog{})
	if filter.ActorID != 0 {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if a := filter.Action; a != "" {
		if a[len(a)-1] == '.' {
			q = q.Where("action LIKE ?", a+"%")
		} else {
			q = q.Where("action = ?", a)
		}
	}
	if filter.TargetType != "" {
		q = q.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != 0 {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var logs []models.ActivityLog
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return logs, total, nil
}
