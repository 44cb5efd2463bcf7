// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"kortrade/internal/cache"
	"kortrade/internal/database"
	"kortrade/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// UserFilter narrows admin user listings.
type UserFilter struct {
	Query  string // matches username, nickname or email
	Banned *bool
	Admin  *bool
	Limit  int
	Offset int
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	Exists(ctx context.Context, field, value string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id uint, hash string) error
	SetBanned(ctx context.Context, id uint, banned bool, reason string) error
	SetAdmin(ctx context.Context, id uint, admin bool) error
	List(ctx context.Context, filter UserFilter) ([]models.User, int64, error)
	TopByActivity(ctx context.Context, limit int) ([]models.User, error)
	TopByBalance(ctx context.Context, limit int) ([]models.User, error)
}

// ErrUnknownUserField is returned by Exists for columns that are not
// unique user identifiers.
var ErrUnknownUserField = errors.New("unknown user field")

var uniqueUserFields = map[string]bool{
	"username": true,
	"nickname": true,
	"email":    true,
	"phone":    true,
}

type userRepository struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewUserRepository returns a new UserRepository implementation. rdb may be
// nil, in which case lookups are never cached.
func NewUserRepository(db *gorm.DB, rdb *redis.Client) UserRepository {
	return &userRepository{db: db, rdb: rdb}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	key := cache.UserKey(id)

	err := cache.Aside(ctx, r.rdb, key, &user, cache.UserTTL, func() error {
		if err := readDB(r.db).WithContext(ctx).First(&user, id).Error; err != nil {
			return mapFindErr(err, "User", id)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &user, nil
}

// findOne returns (nil, nil) when no row matches.
func (r *userRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, "username = ?", strings.ToLower(username))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "LOWER(email) = ?", strings.ToLower(email))
}

func (r *userRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findOne(ctx, "phone = ?", phone)
}

// GetByLogin resolves a login identifier, which is an email when it
// contains '@' and a username otherwise.
func (r *userRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return r.GetByEmail(ctx, login)
	}
	return r.GetByUsername(ctx, login)
}

func (r *userRepository) Exists(ctx context.Context, field, value string) (bool, error) {
	if !uniqueUserFields[field] {
		return false, ErrUnknownUserField
	}
	var count int64
	// soft-deleted accounts keep their identifiers reserved
	q := r.db.WithContext(ctx).Unscoped().Model(&models.User{})
	if field == "email" {
		q = q.Where("LOWER(email) = ?", strings.ToLower(value))
	} else {
		q = q.Where(field+" = ?", value)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return models.NewConflictError(conflictMessage(database.UniqueConstraint(err)))
		}
		return models.NewInternalError(err)
	}
	return nil
}

func conflictMessage(constraint string) string {
	c := strings.ToLower(constraint)
	switch {
	case strings.Contains(c, "username"):
		return "이미 사용 중인 아이디입니다"
	case strings.Contains(c, "nickname"):
		return "이미 사용 중인 닉네임입니다"
	case strings.Contains(c, "email"):
		return "이미 사용 중인 이메일입니다"
	case strings.Contains(c, "phone"):
		return "이미 가입된 휴대폰 번호입니다"
	default:
		return "이미 가입된 회원 정보입니다"
	}
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	// Balance, points and moderation columns have their own writers.
	if err := r.db.WithContext(ctx).
		Model(user).
		Select("nickname", "email", "avatar", "bio").
		Updates(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return models.NewConflictError(conflictMessage(database.UniqueConstraint(err)))
		}
		return models.NewInternalError(err)
	}
	cache.InvalidateUser(ctx, r.rdb, user.ID)
	return nil
}

func (r *userRepository) updateColumns(ctx context.Context, id uint, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	cache.InvalidateUser(ctx, r.rdb, id)
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"password": hash})
}

func (r *userRepository) SetBanned(ctx context.Context, id uint, banned bool, reason string) error {
	values := map[string]interface{}{"is_banned": banned, "banned_reason": reason, "banned_at": nil}
	if banned {
		values["banned_at"] = time.Now()
	} else {
		values["banned_reason"] = ""
	}
	return r.updateColumns(ctx, id, values)
}

func (r *userRepository) SetAdmin(ctx context.Context, id uint, admin bool) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"is_admin": admin})
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]models.User, int64, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.User{})
	if s := strings.TrimSpace(filter.Query); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(username) LIKE ? OR LOWER(nickname) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
	if filter.Banned != nil {
		q = q.Where("is_banned = ?", *filter.Banned)
	}
	if filter.Admin != nil {
		q = q.Where("is_admin = ?", *filter.Admin)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	var users []models.User
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return users, total, nil
}

func (r *userRepository) top(ctx context.Context, order string, limit int) ([]models.User, error) {
	limit, _ = clampPage(limit, 0)
	var users []models.User
	if err := readDB(r.db).WithContext(ctx).
		Where("is_banned = ?", false).
		Order(order).
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) TopByActivity(ctx context.Context, limit int) ([]models.User, error) {
	return r.top(ctx, "activity_points DESC, id ASC", limit)
}

func (r *userRepository) TopByBalance(ctx context.Context, limit int) ([]models.User, error) {
	return r.top(ctx, "kor_coin_balance DESC, id ASC", limit)
}
