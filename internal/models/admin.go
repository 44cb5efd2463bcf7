package models

import "time"

// Activity actions written to the activity log.
const (
	ActionSignup             = "signup"
	ActionLogin              = "login"
	ActionPasswordReset      = "password_reset"
	ActionPostCreate         = "post.create"
	ActionPostUpdate         = "post.update"
	ActionPostDelete         = "post.delete"
	ActionCommentCreate      = "comment.create"
	ActionCommentDelete      = "comment.delete"
	ActionPostHide           = "admin.post.hide"
	ActionPostRestore        = "admin.post.restore"
	ActionPostNotice         = "admin.post.notice"
	ActionAdminPostDelete    = "admin.post.delete"
	ActionAdminCommentDelete = "admin.comment.delete"
	ActionUserBan            = "admin.user.ban"
	ActionUserUnban          = "admin.user.unban"
	ActionUserPromote        = "admin.user.promote"
	ActionUserDemote         = "admin.user.demote"
	ActionCoinGrant          = "admin.coin.grant"
	ActionCoinDeduct         = "admin.coin.deduct"
	ActionPositionOpen       = "trade.position.open"
	ActionPositionClose      = "trade.position.close"
	ActionPositionLiquidate  = "trade.position.liquidate"
)

// ActivityLog is an audit row. Detail holds a JSON object.
type ActivityLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActorID    *uint     `gorm:"index" json:"actor_id,omitempty"`
	Action     string    `gorm:"size:64;not null;index" json:"action"`
	TargetType string    `gorm:"size:32;index:idx_activity_logs_target" json:"target_type,omitempty"`
	TargetID   uint      `gorm:"index:idx_activity_logs_target" json:"target_id,omitempty"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	IP         string    `gorm:"size:64" json:"ip,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// AdminNote is an internal memo written by an administrator, optionally
// about a specific user.
type AdminNote struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AuthorID     uint       `gorm:"not null;index" json:"author_id"`
	Author       User       `gorm:"foreignKey:AuthorID" json:"-"`
	TargetUserID *uint      `gorm:"index" json:"target_user_id,omitempty"`
	Title        string     `gorm:"size:200;not null" json:"title"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	Pinned       bool       `gorm:"not null;default:false" json:"pinned"`
	AuthorInfo   PublicUser `gorm:"-" json:"author"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Image stores metadata for an uploaded picture. Hash is the content hash
// the stored object is named after.
type Image struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Hash      string    `gorm:"size:64;not null;uniqueIndex" json:"hash"`
	URL       string    `gorm:"not null" json:"url"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}
