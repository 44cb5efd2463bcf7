package repository

import (
	"errors"

	"kortrade/internal/database"
	"kortrade/internal/models"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func readDB(primary *gorm.DB) *gorm.DB {
	if db := database.ReadReplica(); db != nil {
		return db
	}
	return primary
}

// clampPage bounds limit to [1, maxPageSize] and offset to >= 0.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// mapFindErr turns gorm.ErrRecordNotFound into a NotFound AppError and
// anything else into an internal error.
func mapFindErr(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}
