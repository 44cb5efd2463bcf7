package database

import "kortrade/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Post{},
		&models.Comment{},
		&models.Like{},
		&models.CommentLike{},
		&models.Share{},
		&models.CoinTransaction{},
		&models.Position{},
		&models.TradeHistory{},
		&models.FundingPayment{},
		&models.ActivityLog{},
		&models.AdminNote{},
		&models.Image{},
	}
}
