package models

import (
	"time"

	"gorm.io/gorm"
)

// Comment represents a comment on a post. Replies point at a top-level
// comment through ParentID and never nest deeper.
type Comment struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Content  string `gorm:"type:text;not null" json:"content"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	PostID   uint   `gorm:"not null;index" json:"post_id"`
	ParentID *uint  `gorm:"index" json:"parent_id,omitempty"`
	User     User   `gorm:"foreignKey:UserID" json:"-"`

	LikesCount int  `gorm:"->;-:migration" json:"likes_count"`
	Liked      bool `gorm:"->;-:migration" json:"liked"`
	// Deleted marks a soft-deleted comment kept as a placeholder because it
	// still has replies.
	Deleted bool `gorm:"-" json:"deleted"`

	Author  PublicUser `gorm:"-" json:"author"`
	Replies []Comment  `gorm:"-" json:"replies,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Comment) AfterFind(_ *gorm.DB) error {
	if c.User.ID != 0 {
		c.Author = c.User.Public()
	}
	c.Deleted = c.DeletedAt.Valid
	return nil
}

// Like represents a user's like on a post.
// The combination of UserID and PostID must be unique.
type Like struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_likes_user_post" json:"user_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_likes_user_post;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentLike represents a user's like on a comment.
type CommentLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_comment_likes_user_comment" json:"user_id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_comment_likes_user_comment;index" json:"comment_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareChannel is where a post was shared to.
type ShareChannel string

const (
	ShareLink     ShareChannel = "link"
	ShareKakao    ShareChannel = "kakao"
	ShareX        ShareChannel = "x"
	ShareFacebook ShareChannel = "facebook"
)

func (c ShareChannel) Valid() bool {
	switch c {
	case ShareLink, ShareKakao, ShareX, ShareFacebook:
		return true
	}
	return false
}

// Share records a post being shared. UserID is nil for anonymous shares.
type Share struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	PostID    uint         `gorm:"not null;index" json:"post_id"`
	UserID    *uint        `gorm:"index" json:"user_id,omitempty"`
	Channel   ShareChannel `gorm:"type:varchar(16);not null" json:"channel"`
	CreatedAt time.Time    `json:"created_at"`
}
