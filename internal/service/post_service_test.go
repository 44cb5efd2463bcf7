package service

import (
	"context"
	"fmt"
	"testing"

	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type boardFixture struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	posts    *PostService
	comments *CommentService
	admins   map[uint]bool
}

func newBoardFixture(t *testing.T) *boardFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr, rdb := testutil.NewTestRedis(t)
	f := &boardFixture{db: db, mr: mr, admins: map[uint]bool{}}
	isAdmin := func(_ context.Context, id uint) (bool, error) { return f.admins[id], nil }

	pts := points.NewService(db, rdb)
	activity := NewActivityRecorder(repository.NewActivityLogRepository(db))
	postRepo := repository.NewPostRepository(db, rdb)
	f.posts = NewPostService(postRepo, rdb, pts, activity, isAdmin, "https://kortrade.example/")
	f.comments = NewCommentService(repository.NewCommentRepository(db), postRepo, pts, activity, isAdmin)
	return f
}

func (f *boardFixture) balance(t *testing.T, userID uint) float64 {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, userID).Error)
	return u.KorCoinBalance
}

func (f *boardFixture) freePost(t *testing.T, userID uint) *models.Post {
	t.Helper()
	post, _, err := f.posts.CreatePost(context.Background(), CreatePostInput{
		UserID: userID, Board: models.BoardFree, Title: "오늘의 시황", Content: "비트코인 횡보 중",
	})
	require.NoError(t, err)
	return post
}

func TestCreatePost_FreeBoardRewards(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author1", 0)

	post, reward, err := f.posts.CreatePost(context.Background(), CreatePostInput{
		UserID: author.ID, Board: models.BoardFree, Title: "  첫 글  ", Content: "안녕하세요",
	})
	require.NoError(t, err)
	assert.Equal(t, "첫 글", post.Title)
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, author.Nickname, post.Author.Nickname)
	require.NotNil(t, reward)
	assert.True(t, reward.Rewarded)
	assert.Equal(t, 10.0, f.balance(t, author.ID))

	var logs int64
	require.NoError(t, f.db.Model(&models.ActivityLog{}).Where("action = ?", models.ActionPostCreate).Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}

func TestCreatePost_Validation(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author2", 0)

	cases := []struct {
		name string
		in   CreatePostInput
	}{
		{"unknown board", CreatePostInput{Board: "stocks", Title: "t", Content: "c"}},
		{"empty title", CreatePostInput{Board: models.BoardFree, Title: "  ", Content: "c"}},
		{"empty content", CreatePostInput{Board: models.BoardFree, Title: "t", Content: ""}},
		{"profit without symbol", CreatePostInput{Board: models.BoardProfit, Title: "t", Content: "c", ProfitRate: 12, ImageURL: "/uploads/a.webp"}},
		{"profit without rate", CreatePostInput{Board: models.BoardProfit, Title: "t", Content: "c", Symbol: "btcusdt", ImageURL: "/uploads/a.webp"}},
		{"profit without image", CreatePostInput{Board: models.BoardProfit, Title: "t", Content: "c", Symbol: "btcusdt", ProfitRate: 12}},
		{"profit bad side", CreatePostInput{Board: models.BoardProfit, Title: "t", Content: "c", Symbol: "btcusdt", ProfitRate: 12, ImageURL: "/uploads/a.webp", Side: "up"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.UserID = author.ID
			_, _, err := f.posts.CreatePost(context.Background(), tc.in)
			assertCode(t, err, models.CodeValidation)
		})
	}
	assert.Equal(t, 0.0, f.balance(t, author.ID))
}

func TestCreatePost_ProfitBoard(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author3", 0)

	post, reward, err := f.posts.CreatePost(context.Background(), CreatePostInput{
		UserID: author.ID, Board: models.BoardProfit, Title: "롱 익절", Content: "인증합니다",
		Symbol: " btcusdt ", Side: "LONG", Leverage: 20, ProfitRate: 153.2, ImageURL: "/uploads/proof.webp",
	})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", post.Symbol)
	assert.Equal(t, "long", post.Side)
	require.NotNil(t, reward)
	assert.Equal(t, 20.0, f.balance(t, author.ID))
}

func TestGetPost_CountsOneViewPerViewer(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author4", 0)
	post := f.freePost(t, author.ID)
	ctx := context.Background()

	got, err := f.posts.GetPost(ctx, post.ID, 0, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ViewCount)

	got, err = f.posts.GetPost(ctx, post.ID, 0, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ViewCount)

	got, err = f.posts.GetPost(ctx, post.ID, 0, "user:99")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ViewCount)
}

func TestGetPost_HiddenVisibleToAuthorAndAdmin(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author5", 0)
	other := testutil.CreateUser(t, f.db, "other5", 0)
	admin := testutil.CreateUser(t, f.db, "admin5", 0)
	f.admins[admin.ID] = true
	post := f.freePost(t, author.ID)
	require.NoError(t, f.db.Model(&models.Post{}).Where("id = ?", post.ID).Update("status", models.PostStatusHidden).Error)
	f.mr.FlushAll()
	ctx := context.Background()

	_, err := f.posts.GetPost(ctx, post.ID, other.ID, "")
	assertCode(t, err, models.CodeNotFound)
	_, err = f.posts.GetPost(ctx, post.ID, 0, "")
	assertCode(t, err, models.CodeNotFound)

	_, err = f.posts.GetPost(ctx, post.ID, author.ID, "")
	assert.NoError(t, err)
	_, err = f.posts.GetPost(ctx, post.ID, admin.ID, "")
	assert.NoError(t, err)
}

func TestUpdateDeletePost_OwnerOrAdmin(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author6", 0)
	other := testutil.CreateUser(t, f.db, "other6", 0)
	admin := testutil.CreateUser(t, f.db, "admin6", 0)
	f.admins[admin.ID] = true
	post := f.freePost(t, author.ID)
	ctx := context.Background()

	_, err := f.posts.UpdatePost(ctx, UpdatePostInput{UserID: other.ID, PostID: post.ID, Title: "x", Content: "y"})
	assertCode(t, err, models.CodeForbidden)

	updated, err := f.posts.UpdatePost(ctx, UpdatePostInput{UserID: author.ID, PostID: post.ID, Title: "수정됨", Content: "내용"})
	require.NoError(t, err)
	assert.Equal(t, "수정됨", updated.Title)

	assertCode(t, f.posts.DeletePost(ctx, other.ID, post.ID, ""), models.CodeForbidden)
	require.NoError(t, f.posts.DeletePost(ctx, admin.ID, post.ID, "10.0.0.1"))

	_, err = f.posts.GetPost(ctx, post.ID, author.ID, "")
	assertCode(t, err, models.CodeNotFound)

	var log models.ActivityLog
	require.NoError(t, f.db.Where("action = ?", models.ActionAdminPostDelete).First(&log).Error)
	assert.Equal(t, admin.ID, *log.ActorID)
}

func TestLikePost_RewardsAuthorOncePerLiker(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author7", 0)
	liker := testutil.CreateUser(t, f.db, "liker7", 0)
	post := f.freePost(t, author.ID)
	ctx := context.Background()
	base := f.balance(t, author.ID)

	state, err := f.posts.LikePost(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, state.Liked)
	assert.True(t, state.Changed)
	assert.Equal(t, int64(1), state.LikesCount)
	require.NotNil(t, state.Reward)
	assert.Equal(t, base+1, f.balance(t, author.ID))

	state, err = f.posts.LikePost(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, state.Changed)
	assert.Equal(t, int64(1), state.LikesCount)

	state, err = f.posts.UnlikePost(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, state.Liked)
	assert.Equal(t, int64(0), state.LikesCount)

	// Re-liking after an unlike does not pay the author again.
	_, err = f.posts.LikePost(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, base+1, f.balance(t, author.ID))
}

func TestLikePost_SelfLikeNotRewarded(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author8", 0)
	post := f.freePost(t, author.ID)
	base := f.balance(t, author.ID)

	state, err := f.posts.LikePost(context.Background(), author.ID, post.ID)
	require.NoError(t, err)
	assert.Nil(t, state.Reward)
	assert.Equal(t, base, f.balance(t, author.ID))
}

func TestSharePost(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author9", 0)
	sharer := testutil.CreateUser(t, f.db, "sharer9", 0)
	post := f.freePost(t, author.ID)
	ctx := context.Background()

	res, err := f.posts.SharePost(ctx, sharer.ID, post.ID, models.ShareKakao)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SharesCount)
	assert.Equal(t, fmt.Sprintf("https://kortrade.example/posts/%d", post.ID), res.ShareURL)
	require.NotNil(t, res.Reward)
	assert.Equal(t, 1.0, f.balance(t, sharer.ID))

	res, err = f.posts.SharePost(ctx, sharer.ID, post.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SharesCount)
	assert.Nil(t, res.Reward)
	assert.Equal(t, 1.0, f.balance(t, sharer.ID))

	res, err = f.posts.SharePost(ctx, 0, post.ID, models.ShareX)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.SharesCount)
	assert.Nil(t, res.Reward)

	_, err = f.posts.SharePost(ctx, sharer.ID, post.ID, "telegram")
	assertCode(t, err, models.CodeValidation)
}

func TestListPosts(t *testing.T) {
	f := newBoardFixture(t)
	author := testutil.CreateUser(t, f.db, "author10", 0)
	for i := 0; i < 3; i++ {
		f.freePost(t, author.ID)
	}
	ctx := context.Background()

	posts, total, err := f.posts.ListPosts(ctx, ListPostsInput{Board: models.BoardFree, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, posts, 2)

	_, _, err = f.posts.ListPosts(ctx, ListPostsInput{Sort: "oldest"})
	assertCode(t, err, models.CodeValidation)
}
