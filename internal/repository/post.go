// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"strings"

	"kortrade/internal/cache"
	"kortrade/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Post list sort modes.
const (
	SortNew     = "new"
	SortPopular = "popular"
	SortViews   = "views"
)

// PostFilter selects posts for board and admin listings.
type PostFilter struct {
	Board         models.Board
	Sort          string
	Query         string // title/content substring
	AuthorID      uint
	Status        models.PostStatus // empty means published only
	AnyStatus     bool              // admin listings include hidden posts
	NoticesFirst  bool
	Limit         int
	Offset        int
	CurrentUserID uint
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint, currentUserID uint) (*models.Post, error)
	List(ctx context.Context, filter PostFilter) ([]*models.Post, int64, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
	IncrementViews(ctx context.Context, id uint) error
	SetStatus(ctx context.Context, id uint, status models.PostStatus) error
	SetNotice(ctx context.Context, id uint, notice bool) error
	Like(ctx context.Context, userID, postID uint) (bool, error)
	Unlike(ctx context.Context, userID, postID uint) (bool, error)
	LikesCount(ctx context.Context, postID uint) (int64, error)
	CreateShare(ctx context.Context, share *models.Share) error
	SharesCount(ctx context.Context, postID uint) (int64, error)
	HasShared(ctx context.Context, userID, postID uint) (bool, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB, rdb *redis.Client) PostRepository {
	return &postRepository{db: db, rdb: rdb}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// GetByID loads a post with counts. Anonymous reads go through the cache;
// per-viewer reads need the liked flag and hit the database.
func (r *postRepository) GetByID(ctx context.Context, id uint, currentUserID uint) (*models.Post, error) {
	var post models.Post
	load := func() error {
		if err := r.applyPostDetails(r.db.WithContext(ctx), currentUserID).
			Preload("User").
			First(&post, id).Error; err != nil {
			return mapFindErr(err, "Post", id)
		}
		return nil
	}

	var err error
	if currentUserID == 0 {
		err = cache.Aside(ctx, r.rdb, cache.PostKey(id), &post, cache.PostTTL, load)
	} else {
		err = load()
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, filter PostFilter) ([]*models.Post, int64, error) {
	limit, offset := clampPage(filter.Limit, filter.Offset)
	base := r.applyFilter(readDB(r.db).WithContext(ctx).Model(&models.Post{}), filter)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var posts []*models.Post
	q := r.applyPostDetails(r.applyFilter(readDB(r.db).WithContext(ctx), filter), filter.CurrentUserID).
		Preload("User")
	if filter.NoticesFirst {
		q = q.Order("posts.is_notice DESC")
	}
	if err := r.applySort(q, filter.Sort).
		Limit(limit).
		Offset(offset).
		Find(&posts).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return posts, total, nil
}

func (r *postRepository) applyFilter(db *gorm.DB, filter PostFilter) *gorm.DB {
	if filter.Board != "" {
		db = db.Where("posts.board = ?", filter.Board)
	}
	switch {
	case filter.Status != "":
		db = db.Where("posts.status = ?", filter.Status)
	case !filter.AnyStatus:
		db = db.Where("posts.status = ?", models.PostStatusPublished)
	}
	if filter.AuthorID != 0 {
		db = db.Where("posts.user_id = ?", filter.AuthorID)
	}
	if s := strings.TrimSpace(filter.Query); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		db = db.Where("(LOWER(posts.title) LIKE ? OR LOWER(posts.content) LIKE ?)", like, like)
	}
	return db
}

// applySort appends the ORDER BY clause for the requested sort type.
// likes_count and comments_count are SELECT aliases from applyPostDetails.
func (r *postRepository) applySort(db *gorm.DB, sort string) *gorm.DB {
	switch sort {
	case SortPopular:
		return db.Order("likes_count DESC, comments_count DESC, posts.created_at DESC")
	case SortViews:
		return db.Order("posts.view_count DESC, posts.created_at DESC")
	default: // "new" and anything unrecognized
		return db.Order("posts.created_at DESC, posts.id DESC")
	}
}

// applyPostDetails adds subqueries to fetch counts and liked status in a single query.
func (r *postRepository) applyPostDetails(db *gorm.DB, currentUserID uint) *gorm.DB {
	selectQuery := "posts.*, " +
		"(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id AND comments.deleted_at IS NULL) as comments_count, " +
		"(SELECT COUNT(*) FROM likes WHERE likes.post_id = posts.id) as likes_count, " +
		"(SELECT COUNT(*) FROM shares WHERE shares.post_id = posts.id) as shares_count"

	if currentUserID != 0 {
		return db.Select(selectQuery+", EXISTS(SELECT 1 FROM likes WHERE likes.post_id = posts.id AND likes.user_id = ?) as liked", currentUserID)
	}

	return db.Select(selectQuery + ", false as liked")
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).
		Model(post).
		Select("title", "content", "image_url", "symbol", "side", "leverage", "profit_rate", "profit_amount").
		Updates(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidatePost(ctx, r.rdb, post.ID)
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Post{}, id)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	cache.InvalidatePost(ctx, r.rdb, id)
	return nil
}

func (r *postRepository) IncrementViews(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidatePost(ctx, r.rdb, id)
	return nil
}

func (r *postRepository) setColumn(ctx context.Context, id uint, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	cache.InvalidatePost(ctx, r.rdb, id)
	return nil
}

func (r *postRepository) SetStatus(ctx context.Context, id uint, status models.PostStatus) error {
	return r.setColumn(ctx, id, "status", status)
}

func (r *postRepository) SetNotice(ctx context.Context, id uint, notice bool) error {
	return r.setColumn(ctx, id, "is_notice", notice)
}

// Like inserts the like if absent. The bool reports whether a row was
// created, so repeated calls are idempotent.
func (r *postRepository) Like(ctx context.Context, userID, postID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Like{UserID: userID, PostID: postID})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidatePost(ctx, r.rdb, postID)
	return res.RowsAffected > 0, nil
}

// Unlike removes the like; the bool reports whether one existed.
func (r *postRepository) Unlike(ctx context.Context, userID, postID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&models.Like{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidatePost(ctx, r.rdb, postID)
	return res.RowsAffected > 0, nil
}

func (r *postRepository) count(ctx context.Context, model interface{}, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *postRepository) LikesCount(ctx context.Context, postID uint) (int64, error) {
	return r.count(ctx, &models.Like{}, "post_id = ?", postID)
}

func (r *postRepository) CreateShare(ctx context.Context, share *models.Share) error {
	if err := r.db.WithContext(ctx).Create(share).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidatePost(ctx, r.rdb, share.PostID)
	return nil
}

func (r *postRepository) SharesCount(ctx context.Context, postID uint) (int64, error) {
	return r.count(ctx, &models.Share{}, "post_id = ?", postID)
}

func (r *postRepository) HasShared(ctx context.Context, userID, postID uint) (bool, error) {
	n, err := r.count(ctx, &models.Share{}, "post_id = ? AND user_id = ?", postID, userID)
	return n > 0, err
}
