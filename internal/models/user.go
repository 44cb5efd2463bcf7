// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a member of the KorTrade community.
type User struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Username        string     `gorm:"size:20;uniqueIndex;not null" json:"username"`
	Nickname        string     `gorm:"size:24;uniqueIndex;not null" json:"nickname"`
	Email           string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password        string     `gorm:"not null" json:"-"`
	Name            string     `gorm:"size:50" json:"-"`
	Phone           string     `gorm:"size:11;uniqueIndex;not null" json:"-"`
	BirthDate       string     `gorm:"size:8" json:"-"`
	PhoneVerifiedAt *time.Time `json:"-"`
	Avatar          string     `json:"avatar"`
	Bio             string     `gorm:"type:text" json:"bio"`
	IsAdmin         bool       `gorm:"not null;default:false" json:"is_admin"`

	IsBanned     bool       `gorm:"not null;default:false;index" json:"is_banned"`
	BannedReason string     `json:"banned_reason,omitempty"`
	BannedAt     *time.Time `json:"banned_at,omitempty"`

	// KorCoinBalance is the spendable KOR-Coin wallet. Only points.Service
	// changes it, always together with a CoinTransaction row.
	KorCoinBalance   float64    `gorm:"type:numeric(20,8);not null;default:0" json:"kor_coin_balance"`
	ActivityPoints   int64      `gorm:"not null;default:0;index" json:"activity_points"`
	LastAttendanceAt *time.Time `json:"last_attendance_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// levelThresholds holds the activity points needed to reach level i+1.
var levelThresholds = []int64{0, 100, 300, 700, 1500, 3000, 6000, 10000, 16000, 25000}

// Level derives the community level from accumulated activity points.
func (u *User) Level() int {
	return LevelFor(u.ActivityPoints)
}

// LevelFor returns the level reached with the given activity points.
func LevelFor(points int64) int {
	level := 1
	for i, threshold := range levelThresholds {
		if points >= threshold {
			level = i + 1
		}
	}
	return level
}

// PublicUser is the author summary embedded in board responses.
type PublicUser struct {
	ID       uint   `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Level    int    `json:"level"`
}

// Public strips private fields for embedding in posts and comments.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Nickname: u.Nickname, Avatar: u.Avatar, Level: u.Level()}
}

// MaskedPhone returns the phone number with its middle digits hidden.
func (u *User) MaskedPhone() string {
	p := u.Phone
	if len(p) < 10 {
		return p
	}
	return p[:3] + "-****-" + p[len(p)-4:]
}
