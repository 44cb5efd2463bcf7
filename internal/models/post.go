package models

import (
	"time"

	"gorm.io/gorm"
)

// Board identifies which bulletin board a post belongs to.
type Board string

const (
	BoardFree   Board = "free"
	BoardProfit Board = "profit"
)

// Valid reports whether b names a known board.
func (b Board) Valid() bool {
	return b == BoardFree || b == BoardProfit
}

// PostStatus is the moderation state of a post.
type PostStatus string

const (
	PostStatusPublished PostStatus = "published"
	PostStatusHidden    PostStatus = "hidden"
)

// Post represents a post on the free or profit board.
type Post struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Board     Board      `gorm:"type:varchar(16);not null;index:idx_posts_board_created" json:"board"`
	Title     string     `gorm:"size:200;not null" json:"title"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	ImageURL  string     `json:"image_url"`
	Status    PostStatus `gorm:"type:varchar(16);not null;default:'published';index" json:"status"`
	IsNotice  bool       `gorm:"not null;default:false" json:"is_notice"`
	ViewCount int64      `gorm:"not null;default:0" json:"view_count"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	User      User       `gorm:"foreignKey:UserID" json:"-"`

	// Profit-board fields.
	Symbol       string  `gorm:"size:20" json:"symbol,omitempty"`
	Side         string  `gorm:"size:8" json:"side,omitempty"`
	Leverage     int     `json:"leverage,omitempty"`
	ProfitRate   float64 `json:"profit_rate,omitempty"`
	ProfitAmount float64 `json:"profit_amount,omitempty"`

	// LikesCount is not persisted; computed at query time
	LikesCount int `gorm:"->;-:migration" json:"likes_count"`
	// CommentsCount is not persisted; computed at query time
	CommentsCount int `gorm:"->;-:migration" json:"comments_count"`
	SharesCount   int `gorm:"->;-:migration" json:"shares_count"`
	// Liked indicates whether the current requesting user liked this post (computed)
	Liked bool `gorm:"->;-:migration" json:"liked"`

	Author PublicUser `gorm:"-" json:"author"`

	CreatedAt time.Time      `gorm:"index:idx_posts_board_created" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// AfterFind fills the public author summary once User is preloaded.
func (p *Post) AfterFind(_ *gorm.DB) error {
	if p.User.ID != 0 {
		p.Author = p.User.Public()
	}
	return nil
}
