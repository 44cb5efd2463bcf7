package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"kortrade/internal/cache"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/validation"

	"github.com/redis/go-redis/v9"
)

const (
	maxTitleRunes   = 100
	maxContentRunes = 20000
)

type PostService struct {
	postRepo     repository.PostRepository
	rdb          *redis.Client
	points       *points.Service
	activity     *ActivityRecorder
	isAdmin      func(ctx context.Context, userID uint) (bool, error)
	shareBaseURL string
}

type ListPostsInput struct {
	Board         models.Board
	Sort          string
	Query         string
	AuthorID      uint
	Limit         int
	Offset        int
	CurrentUserID uint
}

type CreatePostInput struct {
	UserID       uint
	Board        models.Board
	Title        string
	Content      string
	ImageURL     string
	Symbol       string
	Side         string
	Leverage     int
	ProfitRate   float64
	ProfitAmount float64
	IP           string
}

type UpdatePostInput struct {
	UserID       uint
	PostID       uint
	Title        string
	Content      string
	ImageURL     string
	Symbol       string
	Side         string
	Leverage     int
	ProfitRate   float64
	ProfitAmount float64
}

// LikeState is the authoritative like state returned after a toggle.
type LikeState struct {
	Liked      bool           `json:"liked"`
	LikesCount int64          `json:"likes_count"`
	Changed    bool           `json:"-"`
	AuthorID   uint           `json:"-"`
	Reward     *points.Reward `json:"-"`
}

// ShareResult is returned after recording a share.
type ShareResult struct {
	SharesCount int64          `json:"shares_count"`
	ShareURL    string         `json:"share_url"`
	Reward      *points.Reward `json:"reward,omitempty"`
}

func NewPostService(
	postRepo repository.PostRepository,
	rdb *redis.Client,
	pts *points.Service,
	activity *ActivityRecorder,
	isAdmin func(ctx context.Context, userID uint) (bool, error),
	shareBaseURL string,
) *PostService {
	return &PostService{
		postRepo:     postRepo,
		rdb:          rdb,
		points:       pts,
		activity:     activity,
		isAdmin:      isAdmin,
		shareBaseURL: strings.TrimRight(shareBaseURL, "/"),
	}
}

func (s *PostService) ListPosts(ctx context.Context, in ListPostsInput) ([]*models.Post, int64, error) {
	if in.Board != "" && !in.Board.Valid() {
		return nil, 0, models.NewValidationError("알 수 없는 게시판입니다")
	}
	switch in.Sort {
	case "", repository.SortNew, repository.SortPopular, repository.SortViews:
	default:
		return nil, 0, models.NewValidationError("sort는 new, popular, views 중 하나여야 합니다")
	}
	return s.postRepo.List(ctx, repository.PostFilter{
		Board:         in.Board,
		Sort:          in.Sort,
		Query:         in.Query,
		AuthorID:      in.AuthorID,
		NoticesFirst:  in.Query == "" && in.AuthorID == 0,
		Limit:         in.Limit,
		Offset:        in.Offset,
		CurrentUserID: in.CurrentUserID,
	})
}

func (s *PostService) canModerate(ctx context.Context, userID, ownerID uint) (bool, error) {
	if userID != 0 && userID == ownerID {
		return true, nil
	}
	if userID == 0 || s.isAdmin == nil {
		return false, nil
	}
	return s.isAdmin(ctx, userID)
}

// GetPost loads a post and counts one view per viewer per day. Hidden posts
// are visible only to their author and admins.
func (s *PostService) GetPost(ctx context.Context, id, currentUserID uint, viewer string) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, id, currentUserID)
	if err != nil {
		return nil, err
	}
	if post.Status == models.PostStatusHidden {
		ok, err := s.canModerate(ctx, currentUserID, post.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, models.NewNotFoundError("Post", id)
		}
	}

	if s.rdb != nil && viewer != "" {
		first, err := s.rdb.SetNX(ctx, cache.PostViewKey(id, viewer), "1", cache.PostViewTTL).Result()
		if err == nil && first {
			if err := s.postRepo.IncrementViews(ctx, id); err != nil {
				middleware.Component("posts").WarnContext(ctx, "view count update failed", slog.Uint64("post_id", uint64(id)), slog.Any("error", err))
			} else {
				post.ViewCount++
			}
		}
	}
	return post, nil
}

type postFields struct {
	title, content, imageURL, symbol, side string
	leverage                               int
	profitRate, profitAmount               float64
}

func validatePostFields(board models.Board, f *postFields) error {
	f.title = strings.TrimSpace(f.title)
	f.content = strings.TrimSpace(f.content)
	f.imageURL = strings.TrimSpace(f.imageURL)
	if err := validation.ValidateLength("제목", f.title, 1, maxTitleRunes); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateLength("내용", f.content, 1, maxContentRunes); err != nil {
		return models.NewValidationError(err.Error())
	}
	if board != models.BoardProfit {
		f.symbol, f.side, f.leverage, f.profitRate, f.profitAmount = "", "", 0, 0, 0
		return nil
	}

	symbol, err := validation.NormalizeSymbol(f.symbol)
	if err != nil {
		return models.NewValidationError("수익 인증 글에는 종목을 입력해야 합니다")
	}
	f.symbol = symbol
	if f.profitRate == 0 || math.IsNaN(f.profitRate) || math.IsInf(f.profitRate, 0) {
		return models.NewValidationError("수익 인증 글에는 수익률을 입력해야 합니다")
	}
	if f.imageURL == "" {
		return models.NewValidationError("수익 인증 글에는 인증 이미지가 필요합니다")
	}
	f.side = strings.ToLower(strings.TrimSpace(f.side))
	if f.side != "" && !models.PositionSide(f.side).Valid() {
		return models.NewValidationError("포지션은 long 또는 short 이어야 합니다")
	}
	if f.leverage < 0 || f.leverage > 125 {
		return models.NewValidationError("레버리지는 1~125 사이여야 합니다")
	}
	return nil
}

// CreatePost stores the post and pays the board reward. A reward failure
// does not fail the post.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, *points.Reward, error) {
	if !in.Board.Valid() {
		return nil, nil, models.NewValidationError("알 수 없는 게시판입니다")
	}
	f := postFields{
		title: in.Title, content: in.Content, imageURL: in.ImageURL, symbol: in.Symbol, side: in.Side,
		leverage: in.Leverage, profitRate: in.ProfitRate, profitAmount: in.ProfitAmount,
	}
	if err := validatePostFields(in.Board, &f); err != nil {
		return nil, nil, err
	}

	post := &models.Post{
		Board:        in.Board,
		Title:        f.title,
		Content:      f.content,
		ImageURL:     f.imageURL,
		Status:       models.PostStatusPublished,
		UserID:       in.UserID,
		Symbol:       f.symbol,
		Side:         f.side,
		Leverage:     f.leverage,
		ProfitRate:   f.profitRate,
		ProfitAmount: f.profitAmount,
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, nil, err
	}

	s.activity.Record(ctx, ActivityEntry{
		ActorID: in.UserID, Action: models.ActionPostCreate, TargetType: "post", TargetID: post.ID,
		Detail: map[string]interface{}{"board": in.Board}, IP: in.IP,
	})

	action := points.ActionFreePost
	if in.Board == models.BoardProfit {
		action = points.ActionProfitPost
	}
	reward := s.reward(ctx, in.UserID, action, points.RewardRef{Type: "post", ID: post.ID})

	created, err := s.postRepo.GetByID(ctx, post.ID, in.UserID)
	if err != nil {
		return nil, nil, err
	}
	return created, reward, nil
}

func (s *PostService) reward(ctx context.Context, userID uint, action points.Action, ref points.RewardRef) *points.Reward {
	if s.points == nil {
		return nil
	}
	return rewardOrLog(ctx, s.points, userID, action, ref)
}

// rewardOrLog pays a reward and logs failures instead of returning them.
func rewardOrLog(ctx context.Context, pts *points.Service, userID uint, action points.Action, ref points.RewardRef) *points.Reward {
	r, err := pts.Reward(ctx, userID, action, ref)
	if err != nil {
		middleware.Component("points").WarnContext(ctx, "reward failed",
			slog.String("action", string(action)), slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		return nil
	}
	return r
}

func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, in.PostID, in.UserID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canModerate(ctx, in.UserID, post.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewForbiddenError("본인이 작성한 글만 수정할 수 있습니다")
	}

	f := postFields{
		title: in.Title, content: in.Content, imageURL: in.ImageURL, symbol: in.Symbol, side: in.Side,
		leverage: in.Leverage, profitRate: in.ProfitRate, profitAmount: in.ProfitAmount,
	}
	if err := validatePostFields(post.Board, &f); err != nil {
		return nil, err
	}
	post.Title, post.Content, post.ImageURL = f.title, f.content, f.imageURL
	post.Symbol, post.Side, post.Leverage = f.symbol, f.side, f.leverage
	post.ProfitRate, post.ProfitAmount = f.profitRate, f.profitAmount

	if err := s.postRepo.Update(ctx, post); err != nil {
		return nil, err
	}
	s.activity.Record(ctx, ActivityEntry{ActorID: in.UserID, Action: models.ActionPostUpdate, TargetType: "post", TargetID: post.ID})
	return s.postRepo.GetByID(ctx, post.ID, in.UserID)
}

func (s *PostService) DeletePost(ctx context.Context, userID, postID uint, ip string) error {
	post, err := s.postRepo.GetByID(ctx, postID, userID)
	if err != nil {
		return err
	}
	ok, err := s.canModerate(ctx, userID, post.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError("본인이 작성한 글만 삭제할 수 있습니다")
	}
	if err := s.postRepo.Delete(ctx, postID); err != nil {
		return err
	}
	action := models.ActionPostDelete
	if post.UserID != userID {
		action = models.ActionAdminPostDelete
	}
	s.activity.Record(ctx, ActivityEntry{ActorID: userID, Action: action, TargetType: "post", TargetID: postID, IP: ip})
	return nil
}

// publishedPost loads a post that members may interact with.
func (s *PostService) publishedPost(ctx context.Context, postID uint) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, postID, 0)
	if err != nil {
		return nil, err
	}
	if post.Status != models.PostStatusPublished {
		return nil, models.NewNotFoundError("Post", postID)
	}
	return post, nil
}

// LikePost is idempotent. The author is rewarded once per liker and post,
// never for self-likes.
func (s *PostService) LikePost(ctx context.Context, userID, postID uint) (*LikeState, error) {
	post, err := s.publishedPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	created, err := s.postRepo.Like(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	count, err := s.postRepo.LikesCount(ctx, postID)
	if err != nil {
		return nil, err
	}
	state := &LikeState{Liked: true, LikesCount: count, Changed: created, AuthorID: post.UserID}
	if created && post.UserID != userID {
		state.Reward = s.reward(ctx, post.UserID, points.ActionLikeReceived, points.RewardRef{
			Type: "post", ID: postID, Memo: fmt.Sprintf("liker:%d", userID),
		})
	}
	return state, nil
}

func (s *PostService) UnlikePost(ctx context.Context, userID, postID uint) (*LikeState, error) {
	post, err := s.postRepo.GetByID(ctx, postID, 0)
	if err != nil {
		return nil, err
	}
	removed, err := s.postRepo.Unlike(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	count, err := s.postRepo.LikesCount(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &LikeState{Liked: false, LikesCount: count, Changed: removed, AuthorID: post.UserID}, nil
}

// SharePost records a share. Signed-in members are rewarded for their first
// share of each post.
func (s *PostService) SharePost(ctx context.Context, userID, postID uint, channel models.ShareChannel) (*ShareResult, error) {
	if channel == "" {
		channel = models.ShareLink
	}
	if !channel.Valid() {
		return nil, models.NewValidationError("channel은 link, kakao, x, facebook 중 하나여야 합니다")
	}
	if _, err := s.publishedPost(ctx, postID); err != nil {
		return nil, err
	}

	first := false
	share := &models.Share{PostID: postID, Channel: channel}
	if userID != 0 {
		shared, err := s.postRepo.HasShared(ctx, userID, postID)
		if err != nil {
			return nil, err
		}
		first = !shared
		uid := userID
		share.UserID = &uid
	}
	if err := s.postRepo.CreateShare(ctx, share); err != nil {
		return nil, err
	}
	count, err := s.postRepo.SharesCount(ctx, postID)
	if err != nil {
		return nil, err
	}

	res := &ShareResult{SharesCount: count, ShareURL: s.ShareURL(postID)}
	if first {
		res.Reward = s.reward(ctx, userID, points.ActionShare, points.RewardRef{Type: "post", ID: postID})
	}
	return res, nil
}

// ShareURL is the public link for a post.
func (s *PostService) ShareURL(postID uint) string {
	return fmt.Sprintf("%s/posts/%d", s.shareBaseURL, postID)
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	var appErr *models.AppError
	return errors.As(err, &appErr) && appErr.Code == models.CodeNotFound
}
