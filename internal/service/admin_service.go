package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"kortrade/internal/cache"
	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	maxEconomyDays   = 92
	maxCoinMemoRunes = 255
	maxNoteTitle     = 200
	maxNoteContent   = 10000
)

// PresenceCounter reports users connected over websocket.
type PresenceCounter interface {
	OnlineCount(ctx context.Context) int
}

// AdminService backs the admin back-office. Callers are already checked
// for admin rights by the HTTP layer.
type AdminService struct {
	db       *gorm.DB
	rdb      *redis.Client
	users    repository.UserRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	notes    repository.AdminNoteRepository
	logs     repository.ActivityLogRepository
	points   *points.Service
	activity *ActivityRecorder
	presence PresenceCounter
	now      func() time.Time
}

type AdminDeps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Users    repository.UserRepository
	Posts    repository.PostRepository
	Comments repository.CommentRepository
	Notes    repository.AdminNoteRepository
	Logs     repository.ActivityLogRepository
	Points   *points.Service
	Activity *ActivityRecorder
	Presence PresenceCounter
}

func NewAdminService(d AdminDeps) *AdminService {
	return &AdminService{
		db:       d.DB,
		rdb:      d.Redis,
		users:    d.Users,
		posts:    d.Posts,
		comments: d.Comments,
		notes:    d.Notes,
		logs:     d.Logs,
		points:   d.Points,
		activity: d.Activity,
		presence: d.Presence,
		now:      time.Now,
	}
}

// Dashboard is the back-office landing summary.
type Dashboard struct {
	Users         int64     `json:"users"`
	BannedUsers   int64     `json:"banned_users"`
	SignupsToday  int64     `json:"signups_today"`
	Posts         int64     `json:"posts"`
	HiddenPosts   int64     `json:"hidden_posts"`
	PostsToday    int64     `json:"posts_today"`
	Comments      int64     `json:"comments"`
	OpenPositions int64     `json:"open_positions"`
	CoinSupply    float64   `json:"coin_supply"`
	OnlineUsers   int       `json:"online_users"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Dashboard returns counts cached for a short TTL. The online count is
// always live.
func (s *AdminService) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	err := cache.Aside(ctx, s.rdb, cache.DashboardKey, &d, cache.DashboardTTL, func() error {
		return s.buildDashboard(ctx, &d)
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if s.presence != nil {
		d.OnlineUsers = s.presence.OnlineCount(ctx)
	}
	return &d, nil
}

func (s *AdminService) buildDashboard(ctx context.Context, d *Dashboard) error {
	db := s.db.WithContext(ctx)
	today := points.DayStart(s.now()).UTC()

	counts := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&d.Users, &models.User{}, "", nil},
		{&d.BannedUsers, &models.User{}, "is_banned = ?", []interface{}{true}},
		{&d.SignupsToday, &models.User{}, "created_at >= ?", []interface{}{today}},
		{&d.Posts, &models.Post{}, "", nil},
		{&d.HiddenPosts, &models.Post{}, "status = ?", []interface{}{models.PostStatusHidden}},
		{&d.PostsToday, &models.Post{}, "created_at >= ?", []interface{}{today}},
		{&d.Comments, &models.Comment{}, "", nil},
		{&d.OpenPositions, &models.Position{}, "status = ?", []interface{}{models.PositionOpen}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return err
		}
	}

	supply, err := s.points.Supply(ctx)
	if err != nil {
		return err
	}
	d.CoinSupply = supply
	d.GeneratedAt = s.now().UTC()
	return nil
}

// AdminPostFilter is the moderation list query. Status empty lists every
// status.
type AdminPostFilter struct {
	Board    models.Board
	Status   models.PostStatus
	Query    string
	AuthorID uint
	Limit    int
	Offset   int
}

func (s *AdminService) ListPosts(ctx context.Context, f AdminPostFilter) ([]*models.Post, int64, error) {
	if f.Board != "" && !f.Board.Valid() {
		return nil, 0, models.NewValidationError("알 수 없는 게시판입니다")
	}
	if f.Status != "" && f.Status != models.PostStatusPublished && f.Status != models.PostStatusHidden {
		return nil, 0, models.NewValidationError("알 수 없는 게시글 상태입니다")
	}
	return s.posts.List(ctx, repository.PostFilter{
		Board:     f.Board,
		Status:    f.Status,
		AnyStatus: f.Status == "",
		Query:     f.Query,
		AuthorID:  f.AuthorID,
		Sort:      repository.SortNew,
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
}

func (s *AdminService) HidePost(ctx context.Context, adminID, postID uint, reason, ip string) error {
	if err := s.posts.SetStatus(ctx, postID, models.PostStatusHidden); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionPostHide, "post", postID, ip, map[string]interface{}{"reason": reason})
	return nil
}

func (s *AdminService) RestorePost(ctx context.Context, adminID, postID uint, ip string) error {
	if err := s.posts.SetStatus(ctx, postID, models.PostStatusPublished); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionPostRestore, "post", postID, ip, nil)
	return nil
}

// SetNotice pins or unpins a post to the top of its board.
func (s *AdminService) SetNotice(ctx context.Context, adminID, postID uint, notice bool, ip string) error {
	if err := s.posts.SetNotice(ctx, postID, notice); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionPostNotice, "post", postID, ip, map[string]interface{}{"notice": notice})
	return nil
}

func (s *AdminService) DeletePost(ctx context.Context, adminID, postID uint, ip string) error {
	if err := s.posts.Delete(ctx, postID); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionAdminPostDelete, "post", postID, ip, nil)
	return nil
}

func (s *AdminService) DeleteComment(ctx context.Context, adminID, commentID uint, ip string) error {
	comment, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return err
	}
	if err := s.comments.Delete(ctx, commentID); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionAdminCommentDelete, "comment", commentID, ip,
		map[string]interface{}{"post_id": comment.PostID, "author_id": comment.UserID})
	return nil
}

func (s *AdminService) ListUsers(ctx context.Context, f repository.UserFilter) ([]models.User, int64, error) {
	return s.users.List(ctx, f)
}

// BanUser blocks login and every authenticated request of the user.
// Administrators must be demoted before they can be banned.
func (s *AdminService) BanUser(ctx context.Context, adminID, userID uint, reason, ip string) error {
	if adminID == userID {
		return models.NewValidationError("자기 자신은 정지할 수 없습니다")
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > 255 {
		return models.NewValidationError("정지 사유는 255자 이하로 입력해주세요")
	}
	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if target.IsAdmin {
		return models.NewForbiddenError("관리자는 정지할 수 없습니다")
	}
	if err := s.users.SetBanned(ctx, userID, true, reason); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionUserBan, "user", userID, ip, map[string]interface{}{"reason": reason})
	return nil
}

func (s *AdminService) UnbanUser(ctx context.Context, adminID, userID uint, ip string) error {
	if err := s.users.SetBanned(ctx, userID, false, ""); err != nil {
		return err
	}
	s.record(ctx, adminID, models.ActionUserUnban, "user", userID, ip, nil)
	return nil
}

// SetAdmin promotes or demotes a user. Admins cannot demote themselves.
func (s *AdminService) SetAdmin(ctx context.Context, adminID, userID uint, admin bool, ip string) error {
	if !admin && adminID == userID {
		return models.NewValidationError("자기 자신의 관리자 권한은 해제할 수 없습니다")
	}
	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if admin && target.IsBanned {
		return models.NewValidationError("정지된 회원은 관리자로 지정할 수 없습니다")
	}
	if err := s.users.SetAdmin(ctx, userID, admin); err != nil {
		return err
	}
	action := models.ActionUserPromote
	if !admin {
		action = models.ActionUserDemote
	}
	s.record(ctx, adminID, action, "user", userID, ip, nil)
	return nil
}

// AdjustCoins grants (amount > 0) or deducts (amount < 0) KOR-Coin.
// A deduction never takes the balance below zero.
func (s *AdminService) AdjustCoins(ctx context.Context, adminID, userID uint, amount float64, memo, ip string) (*models.CoinTransaction, error) {
	if amount == 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, models.NewValidationError("지급 또는 차감할 금액을 입력해주세요")
	}
	memo = strings.TrimSpace(memo)
	if utf8.RuneCountInString(memo) > maxCoinMemoRunes {
		return nil, models.NewValidationError("메모는 255자 이하로 입력해주세요")
	}

	txType, action := models.CoinAdminGrant, models.ActionCoinGrant
	if amount < 0 {
		txType, action = models.CoinAdminDeduct, models.ActionCoinDeduct
	}
	row, err := s.points.Apply(ctx, points.Entry{
		UserID: userID, Type: txType, Amount: amount,
		RefType: "admin", RefID: adminID, Memo: memo,
	})
	if errors.Is(err, points.ErrInsufficientBalance) {
		return nil, models.NewInsufficientBalanceError("차감할 금액이 보유 잔액보다 많습니다")
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, adminID, action, "user", userID, ip, map[string]interface{}{
		"amount": amount, "memo": memo, "balance_after": row.BalanceAfter,
	})
	return row, nil
}

// EconomyBucket aggregates one Asia/Seoul day of ledger rows.
type EconomyBucket struct {
	Date   string                        `json:"date"`
	Issued float64                       `json:"issued"`
	Burned float64                       `json:"burned"`
	Net    float64                       `json:"net"`
	ByType map[models.CoinTxType]float64 `json:"by_type"`
}

// Economy returns daily buckets for the inclusive day range [from, to].
// Zero values default to the last 30 days.
func (s *AdminService) Economy(ctx context.Context, from, to time.Time) ([]EconomyBucket, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -29)
	}
	start, end := points.DayStart(from), points.DayStart(to).AddDate(0, 0, 1)
	if !start.Before(end) {
		return nil, models.NewValidationError("조회 시작일이 종료일보다 늦습니다")
	}
	days := int(end.Sub(start).Hours()/24 + 0.5)
	if days > maxEconomyDays {
		return nil, models.NewValidationError(fmt.Sprintf("최대 %d일까지 조회할 수 있습니다", maxEconomyDays))
	}

	buckets := make([]EconomyBucket, days)
	for i := range buckets {
		buckets[i] = EconomyBucket{
			Date:   start.AddDate(0, 0, i).Format("2006-01-02"),
			ByType: map[models.CoinTxType]float64{},
		}
	}

	rows, err := s.db.WithContext(ctx).Model(&models.CoinTransaction{}).
		Select("type, amount, created_at").
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Rows()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ    models.CoinTxType
			amount float64
			at     time.Time
		)
		if err := rows.Scan(&typ, &amount, &at); err != nil {
			return nil, models.NewInternalError(err)
		}
		i := int(points.DayStart(at).Sub(start).Hours()/24 + 0.5)
		if i < 0 || i >= days {
			continue
		}
		b := &buckets[i]
		if amount >= 0 {
			b.Issued += amount
		} else {
			b.Burned -= amount
		}
		b.Net += amount
		b.ByType[typ] += amount
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewInternalError(err)
	}
	return buckets, nil
}

// Holder is one row of the balance leaderboard.
type Holder struct {
	Rank    int               `json:"rank"`
	User    models.PublicUser `json:"user"`
	Balance float64           `json:"kor_coin_balance"`
}

func (s *AdminService) Holders(ctx context.Context, limit int) ([]Holder, error) {
	users, err := s.users.TopByBalance(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Holder, 0, len(users))
	for i, u := range users {
		out = append(out, Holder{Rank: i + 1, User: u.Public(), Balance: u.KorCoinBalance})
	}
	return out, nil
}

func (s *AdminService) ActivityLogs(ctx context.Context, f repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, 0, models.NewValidationError("조회 시작일이 종료일보다 늦습니다")
	}
	return s.logs.List(ctx, f)
}

// NoteInput creates or replaces an admin note.
type NoteInput struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	TargetUserID *uint  `json:"target_user_id"`
	Pinned       bool   `json:"pinned"`
}

func (s *AdminService) validateNote(ctx context.Context, in *NoteInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if n := utf8.RuneCountInString(in.Title); n == 0 || n > maxNoteTitle {
		return models.NewValidationError("제목은 1~200자로 입력해주세요")
	}
	if n := utf8.RuneCountInString(in.Content); n == 0 || n > maxNoteContent {
		return models.NewValidationError("내용은 1~10000자로 입력해주세요")
	}
	if in.TargetUserID != nil && *in.TargetUserID == 0 {
		in.TargetUserID = nil
	}
	if in.TargetUserID != nil {
		if _, err := s.users.GetByID(ctx, *in.TargetUserID); err != nil {
			return err
		}
	}
	return nil
}

func (s *AdminService) ListNotes(ctx context.Context, targetUserID uint, limit, offset int) ([]models.AdminNote, int64, error) {
	return s.notes.List(ctx, targetUserID, limit, offset)
}

func (s *AdminService) CreateNote(ctx context.Context, adminID uint, in NoteInput) (*models.AdminNote, error) {
	if err := s.validateNote(ctx, &in); err != nil {
		return nil, err
	}
	note := &models.AdminNote{
		AuthorID:     adminID,
		TargetUserID: in.TargetUserID,
		Title:        in.Title,
		Content:      in.Content,
		Pinned:       in.Pinned,
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, err
	}
	return s.notes.GetByID(ctx, note.ID)
}

// UpdateNote replaces a note. Any admin may edit any note.
func (s *AdminService) UpdateNote(ctx context.Context, noteID uint, in NoteInput) (*models.AdminNote, error) {
	note, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.validateNote(ctx, &in); err != nil {
		return nil, err
	}
	note.Title, note.Content, note.Pinned, note.TargetUserID = in.Title, in.Content, in.Pinned, in.TargetUserID
	if err := s.notes.Update(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

func (s *AdminService) DeleteNote(ctx context.Context, noteID uint) error {
	return s.notes.Delete(ctx, noteID)
}

func (s *AdminService) record(ctx context.Context, adminID uint, action, targetType string, targetID uint, ip string, detail map[string]interface{}) {
	s.activity.Record(ctx, ActivityEntry{
		ActorID: adminID, Action: action, TargetType: targetType, TargetID: targetID, IP: ip, Detail: detail,
	})
}
