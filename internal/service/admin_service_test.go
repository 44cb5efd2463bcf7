package service

import (
	"context"
	"testing"
	"time"

	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type presenceStub int

func (p presenceStub) OnlineCount(context.Context) int { return int(p) }

type adminFixture struct {
	db    *gorm.DB
	mr    *miniredis.Miniredis
	users repository.UserRepository
	svc   *AdminService
	admin *models.User
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr, rdb := testutil.NewTestRedis(t)
	users := repository.NewUserRepository(db, rdb)
	f := &adminFixture{db: db, mr: mr, users: users}
	f.svc = NewAdminService(AdminDeps{
		DB:       db,
		Redis:    rdb,
		Users:    users,
		Posts:    repository.NewPostRepository(db, rdb),
		Comments: repository.NewCommentRepository(db),
		Notes:    repository.NewAdminNoteRepository(db),
		Logs:     repository.NewActivityLogRepository(db),
		Points:   points.NewService(db, rdb),
		Activity: NewActivityRecorder(repository.NewActivityLogRepository(db)),
		Presence: presenceStub(3),
	})
	f.admin = testutil.CreateUser(t, db, "root", 0)
	require.NoError(t, db.Model(f.admin).Update("is_admin", true).Error)
	return f
}

func (f *adminFixture) post(t *testing.T, userID uint) *models.Post {
	t.Helper()
	p := &models.Post{UserID: userID, Board: models.BoardFree, Title: "제목", Content: "내용", Status: models.PostStatusPublished}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *adminFixture) countLogs(t *testing.T, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.ActivityLog{}).Where("action = ?", action).Count(&n).Error)
	return n
}

func TestDashboard_CountsAndCaches(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 250)
	f.post(t, member.ID)
	hidden := f.post(t, member.ID)
	require.NoError(t, f.db.Model(hidden).Update("status", models.PostStatusHidden).Error)

	d, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Users)
	assert.Equal(t, int64(2), d.Posts)
	assert.Equal(t, int64(1), d.HiddenPosts)
	assert.Equal(t, 250.0, d.CoinSupply)
	assert.Equal(t, 3, d.OnlineUsers)

	testutil.CreateUser(t, f.db, "member2", 0)
	d, err = f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Users, "served from cache")

	f.mr.FlushAll()
	d, err = f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.Users)
}

func TestPostModeration(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 0)
	p := f.post(t, member.ID)

	require.NoError(t, f.svc.HidePost(ctx, f.admin.ID, p.ID, "spam", "127.0.0.1"))
	hidden, total, err := f.svc.ListPosts(ctx, AdminPostFilter{Status: models.PostStatusHidden})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, p.ID, hidden[0].ID)

	require.NoError(t, f.svc.RestorePost(ctx, f.admin.ID, p.ID, ""))
	require.NoError(t, f.svc.SetNotice(ctx, f.admin.ID, p.ID, true, ""))
	var got models.Post
	require.NoError(t, f.db.First(&got, p.ID).Error)
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.True(t, got.IsNotice)

	all, total, err := f.svc.ListPosts(ctx, AdminPostFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, all, 1)

	_, _, err = f.svc.ListPosts(ctx, AdminPostFilter{Board: "stocks"})
	assertCode(t, err, models.CodeValidation)

	require.NoError(t, f.svc.DeletePost(ctx, f.admin.ID, p.ID, ""))
	assertCode(t, f.svc.DeletePost(ctx, f.admin.ID, p.ID, ""), models.CodeNotFound)

	assert.Equal(t, int64(1), f.countLogs(t, models.ActionPostHide))
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionPostRestore))
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionPostNotice))
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionAdminPostDelete))
}

func TestDeleteComment(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 0)
	p := f.post(t, member.ID)
	c := &models.Comment{PostID: p.ID, UserID: member.ID, Content: "댓글"}
	require.NoError(t, f.db.Create(c).Error)

	require.NoError(t, f.svc.DeleteComment(ctx, f.admin.ID, c.ID, ""))
	assertCode(t, f.svc.DeleteComment(ctx, f.admin.ID, c.ID, ""), models.CodeNotFound)
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionAdminCommentDelete))
}

func TestBanAndRoles(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 0)
	other := testutil.CreateUser(t, f.db, "admin2", 0)
	require.NoError(t, f.db.Model(other).Update("is_admin", true).Error)

	assertCode(t, f.svc.BanUser(ctx, f.admin.ID, f.admin.ID, "", ""), models.CodeValidation)
	assertCode(t, f.svc.BanUser(ctx, f.admin.ID, other.ID, "", ""), models.CodeForbidden)

	// warm the cache so the ban has to invalidate it
	_, err := f.users.GetByID(ctx, member.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.BanUser(ctx, f.admin.ID, member.ID, "  도배  ", ""))
	got, err := f.users.GetByID(ctx, member.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBanned)
	assert.Equal(t, "도배", got.BannedReason)

	assertCode(t, f.svc.SetAdmin(ctx, f.admin.ID, member.ID, true, ""), models.CodeValidation)

	require.NoError(t, f.svc.UnbanUser(ctx, f.admin.ID, member.ID, ""))
	got, err = f.users.GetByID(ctx, member.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBanned)

	require.NoError(t, f.svc.SetAdmin(ctx, f.admin.ID, member.ID, true, ""))
	got, err = f.users.GetByID(ctx, member.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	assertCode(t, f.svc.SetAdmin(ctx, f.admin.ID, f.admin.ID, false, ""), models.CodeValidation)
	require.NoError(t, f.svc.SetAdmin(ctx, f.admin.ID, other.ID, false, ""))

	banned := true
	list, total, err := f.svc.ListUsers(ctx, repository.UserFilter{Banned: &banned})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionUserBan))
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionUserDemote))
}

func TestAdjustCoins(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 100)

	row, err := f.svc.AdjustCoins(ctx, f.admin.ID, member.ID, 500, " 이벤트 보상 ", "")
	require.NoError(t, err)
	assert.Equal(t, models.CoinAdminGrant, row.Type)
	assert.Equal(t, 600.0, row.BalanceAfter)
	assert.Equal(t, "이벤트 보상", row.Memo)

	row, err = f.svc.AdjustCoins(ctx, f.admin.ID, member.ID, -50, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.CoinAdminDeduct, row.Type)
	assert.Equal(t, 550.0, row.BalanceAfter)

	_, err = f.svc.AdjustCoins(ctx, f.admin.ID, member.ID, -1000, "", "")
	assertCode(t, err, models.CodeInsufficientBalance)
	_, err = f.svc.AdjustCoins(ctx, f.admin.ID, member.ID, 0, "", "")
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.AdjustCoins(ctx, f.admin.ID, 9999, 10, "", "")
	assertCode(t, err, models.CodeNotFound)

	var u models.User
	require.NoError(t, f.db.First(&u, member.ID).Error)
	assert.Equal(t, 550.0, u.KorCoinBalance)
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionCoinGrant))
	assert.Equal(t, int64(1), f.countLogs(t, models.ActionCoinDeduct))
}

func TestEconomy_BucketsBySeoulDay(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 0)

	ledger := []models.CoinTransaction{
		// 2026-10-18 23:30 KST
		{UserID: member.ID, Type: models.CoinRewardPost, Amount: 10, CreatedAt: time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)},
		// 2026-10-19 00:30 KST
		{UserID: member.ID, Type: models.CoinRewardComment, Amount: 2, CreatedAt: time.Date(2026, 10, 18, 15, 30, 0, 0, time.UTC)},
		{UserID: member.ID, Type: models.CoinTradeFee, Amount: -0.5, CreatedAt: time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)},
		// outside the range
		{UserID: member.ID, Type: models.CoinRewardPost, Amount: 10, CreatedAt: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, f.db.Create(&ledger).Error)

	from := time.Date(2026, 10, 18, 0, 0, 0, 0, points.KST)
	to := time.Date(2026, 10, 19, 0, 0, 0, 0, points.KST)
	buckets, err := f.svc.Economy(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, "2026-10-18", buckets[0].Date)
	assert.Equal(t, 10.0, buckets[0].Issued)
	assert.Equal(t, 10.0, buckets[0].Net)

	assert.Equal(t, "2026-10-19", buckets[1].Date)
	assert.Equal(t, 2.0, buckets[1].Issued)
	assert.Equal(t, 0.5, buckets[1].Burned)
	assert.Equal(t, 1.5, buckets[1].Net)
	assert.Equal(t, -0.5, buckets[1].ByType[models.CoinTradeFee])

	_, err = f.svc.Economy(ctx, to, from)
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.Economy(ctx, from.AddDate(0, 0, -100), to)
	assertCode(t, err, models.CodeValidation)
}

func TestHolders(t *testing.T) {
	f := newAdminFixture(t)
	rich := testutil.CreateUser(t, f.db, "rich", 5000)
	testutil.CreateUser(t, f.db, "mid", 300)
	banned := testutil.CreateUser(t, f.db, "banned", 9000)
	require.NoError(t, f.db.Model(banned).Update("is_banned", true).Error)

	holders, err := f.svc.Holders(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, 1, holders[0].Rank)
	assert.Equal(t, rich.ID, holders[0].User.ID)
	assert.Equal(t, 5000.0, holders[0].Balance)
	assert.Equal(t, 300.0, holders[1].Balance)
}

func TestActivityLogs_Filter(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 0)
	p := f.post(t, member.ID)
	require.NoError(t, f.svc.HidePost(ctx, f.admin.ID, p.ID, "", ""))
	_, err := f.svc.AdjustCoins(ctx, f.admin.ID, member.ID, 10, "", "")
	require.NoError(t, err)

	logs, total, err := f.svc.ActivityLogs(ctx, repository.ActivityLogFilter{Action: "admin.post."})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.ActionPostHide, logs[0].Action)

	_, total, err = f.svc.ActivityLogs(ctx, repository.ActivityLogFilter{ActorID: f.admin.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	now := time.Now()
	_, _, err = f.svc.ActivityLogs(ctx, repository.ActivityLogFilter{From: now, To: now.Add(-time.Hour)})
	assertCode(t, err, models.CodeValidation)
}

func TestAdminNotes(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	member := testutil.CreateUser(t, f.db, "member1", 0)
	missing := uint(9999)

	_, err := f.svc.CreateNote(ctx, f.admin.ID, NoteInput{Title: "메모", Content: "내용", TargetUserID: &missing})
	assertCode(t, err, models.CodeNotFound)
	_, err = f.svc.CreateNote(ctx, f.admin.ID, NoteInput{Title: " ", Content: "내용"})
	assertCode(t, err, models.CodeValidation)

	first, err := f.svc.CreateNote(ctx, f.admin.ID, NoteInput{Title: "일반 메모", Content: "운영 기록"})
	require.NoError(t, err)
	assert.Equal(t, f.admin.Nickname, first.AuthorInfo.Nickname)

	pinned, err := f.svc.CreateNote(ctx, f.admin.ID, NoteInput{
		Title: "주의 회원", Content: "도배 이력", TargetUserID: &member.ID, Pinned: true,
	})
	require.NoError(t, err)

	notes, total, err := f.svc.ListNotes(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, pinned.ID, notes[0].ID)

	byUser, total, err := f.svc.ListNotes(ctx, member.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, pinned.ID, byUser[0].ID)

	updated, err := f.svc.UpdateNote(ctx, pinned.ID, NoteInput{Title: "주의 회원", Content: "해제", Pinned: false})
	require.NoError(t, err)
	assert.False(t, updated.Pinned)
	assert.Nil(t, updated.TargetUserID)

	require.NoError(t, f.svc.DeleteNote(ctx, first.ID))
	assertCode(t, f.svc.DeleteNote(ctx, first.ID), models.CodeNotFound)
}
