package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"kortrade/internal/models"

	"gorm.io/gorm"
)

var fixtureSeq atomic.Int64

// CreateUser inserts a member with a unique phone and the given balance.
func CreateUser(t testing.TB, db *gorm.DB, username string, balance float64) *models.User {
	t.Helper()
	n := fixtureSeq.Add(1)
	u := &models.User{
		Username:       username,
		Nickname:       fmt.Sprintf("닉%s", username),
		Email:          username + "@example.com",
		Password:       "hash",
		Phone:          fmt.Sprintf("0109%07d", n),
		KorCoinBalance: balance,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}
