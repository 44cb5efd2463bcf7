package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"kortrade/internal/cache"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/sms"
	"kortrade/internal/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Purpose scopes a verification code to one flow.
type Purpose string

const (
	PurposeSignup        Purpose = "signup"
	PurposeResetPassword Purpose = "reset_password"
	PurposeFindUsername  Purpose = "find_username"
)

func (p Purpose) Valid() bool {
	return p == PurposeSignup || p == PurposeResetPassword || p == PurposeFindUsername
}

const (
	verificationCodeTTL  = 3 * time.Minute
	verificationTokenTTL = 30 * time.Minute
	smsResendCooldown    = 60 * time.Second
	smsHourlyLimit       = 5
	maxCodeAttempts      = 5
)

// AuthService owns phone verification, registration and sessions.
type AuthService struct {
	db          *gorm.DB
	rdb         *redis.Client
	users       repository.UserRepository
	points      *points.Service
	sender      sms.Sender
	activity    *ActivityRecorder
	secret      string
	signupBonus float64
	now         func() time.Time
	newCode     func() (string, error)
	logger      *slog.Logger
}

// AuthConfig carries the settings AuthService needs from config.Config.
type AuthConfig struct {
	JWTSecret   string
	SignupBonus float64
}

func NewAuthService(
	db *gorm.DB,
	rdb *redis.Client,
	users repository.UserRepository,
	pts *points.Service,
	sender sms.Sender,
	activity *ActivityRecorder,
	cfg AuthConfig,
) *AuthService {
	return &AuthService{
		db:          db,
		rdb:         rdb,
		users:       users,
		points:      pts,
		sender:      sender,
		activity:    activity,
		secret:      cfg.JWTSecret,
		signupBonus: cfg.SignupBonus,
		now:         time.Now,
		newCode:     randomCode,
		logger:      middleware.Component("auth"),
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *AuthService) requireRedis() error {
	if s.rdb == nil {
		return models.NewUnavailableError("인증 서비스를 사용할 수 없습니다", errors.New("redis not configured"))
	}
	return nil
}

// SendResult tells the client when the code expires and when it may ask again.
type SendResult struct {
	ExpiresIn   int `json:"expires_in"`
	ResendAfter int `json:"resend_after"`
}

// SendCode issues a 6-digit code for purpose and delivers it by SMS.
func (s *AuthService) SendCode(ctx context.Context, rawPhone string, purpose Purpose) (*SendResult, error) {
	if err := s.requireRedis(); err != nil {
		return nil, err
	}
	if !purpose.Valid() {
		return nil, models.NewValidationError("알 수 없는 인증 목적입니다")
	}
	phone, err := validation.NormalizePhone(rawPhone)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	registered, err := s.users.Exists(ctx, "phone", phone)
	if err != nil {
		return nil, err
	}
	if purpose == PurposeSignup && registered {
		return nil, models.NewConflictError("이미 가입된 휴대폰 번호입니다")
	}
	if purpose != PurposeSignup && !registered {
		return nil, models.NewNotFoundMessage("가입되지 않은 휴대폰 번호입니다")
	}

	ok, err := s.rdb.SetNX(ctx, cache.SMSCooldownKey(phone), "1", smsResendCooldown).Result()
	if err != nil {
		return nil, models.NewUnavailableError("인증번호를 보낼 수 없습니다", err)
	}
	if !ok {
		ttl, _ := s.rdb.TTL(ctx, cache.SMSCooldownKey(phone)).Result()
		return nil, models.NewRateLimitedError(fmt.Sprintf("%d초 후에 다시 요청해주세요", int(ttl.Seconds())))
	}

	allowed, _, err := middleware.Consume(ctx, s.rdb, cache.SMSQuotaKey(phone), smsHourlyLimit, time.Hour)
	if err != nil {
		return nil, models.NewUnavailableError("인증번호를 보낼 수 없습니다", err)
	}
	if !allowed {
		return nil, models.NewRateLimitedError("인증번호 요청 횟수를 초과했습니다. 1시간 후에 다시 시도해주세요")
	}

	code, err := s.newCode()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	key := cache.VerifyCodeKey(string(purpose), phone)
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "code", code, "attempts", 0)
		pipe.Expire(ctx, key, verificationCodeTTL)
		return nil
	}); err != nil {
		return nil, models.NewUnavailableError("인증번호를 보낼 수 없습니다", err)
	}

	if err := s.sender.Send(ctx, phone, sms.VerificationMessage(code)); err != nil {
		s.rdb.Del(ctx, key, cache.SMSCooldownKey(phone))
		s.logger.ErrorContext(ctx, "sms delivery failed", slog.String("purpose", string(purpose)), slog.Any("error", err))
		return nil, models.NewUnavailableError("문자 발송에 실패했습니다. 잠시 후 다시 시도해주세요", err)
	}

	return &SendResult{
		ExpiresIn:   int(verificationCodeTTL.Seconds()),
		ResendAfter: int(smsResendCooldown.Seconds()),
	}, nil
}

// ConfirmCode checks code and returns a single-use verification token.
func (s *AuthService) ConfirmCode(ctx context.Context, rawPhone string, purpose Purpose, code string) (string, error) {
	if err := s.requireRedis(); err != nil {
		return "", err
	}
	if !purpose.Valid() {
		return "", models.NewValidationError("알 수 없는 인증 목적입니다")
	}
	phone, err := validation.NormalizePhone(rawPhone)
	if err != nil {
		return "", models.NewValidationError(err.Error())
	}
	if err := validation.ValidateCode(code); err != nil {
		return "", models.NewValidationError(err.Error())
	}

	key := cache.VerifyCodeKey(string(purpose), phone)
	stored, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", models.NewUnavailableError("인증을 확인할 수 없습니다", err)
	}
	if stored["code"] == "" {
		return "", models.NewValidationError("인증번호가 만료되었습니다. 다시 요청해주세요")
	}
	attempts, _ := strconv.Atoi(stored["attempts"])
	if attempts >= maxCodeAttempts {
		s.rdb.Del(ctx, key)
		return "", models.NewValidationError("인증 시도 횟수를 초과했습니다. 다시 요청해주세요")
	}

	if subtle.ConstantTimeCompare([]byte(stored["code"]), []byte(code)) != 1 {
		n, err := s.countFailedAttempt(ctx, key)
		if err != nil {
			return "", models.NewUnavailableError("인증을 확인할 수 없습니다", err)
		}
		if n < 0 {
			return "", models.NewValidationError("인증번호가 만료되었습니다. 다시 요청해주세요")
		}
		if n >= maxCodeAttempts {
			s.rdb.Del(ctx, key)
			return "", models.NewValidationError("인증 시도 횟수를 초과했습니다. 다시 요청해주세요")
		}
		return "", models.NewValidationError(fmt.Sprintf("인증번호가 일치하지 않습니다 (남은 시도 %d회)", maxCodeAttempts-int(n)))
	}

	token := uuid.NewString()
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Set(ctx, cache.VerifiedKey(string(purpose), token), phone, verificationTokenTTL)
		return nil
	}); err != nil {
		return "", models.NewUnavailableError("인증을 확인할 수 없습니다", err)
	}
	return token, nil
}

// bumpAttempts increments the failure counter only while the code is still
// stored, so a code that expired mid-check is not recreated without a TTL.
var bumpAttempts = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "code") == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

// countFailedAttempt returns the new attempt count, or -1 when the code is
// gone.
func (s *AuthService) countFailedAttempt(ctx context.Context, key string) (int64, error) {
	return bumpAttempts.Run(ctx, s.rdb, []string{key}).Int64()
}

// consumeToken redeems a verification token once. It must have been issued
// for phone.
func (s *AuthService) consumeToken(ctx context.Context, purpose Purpose, token, phone string) error {
	if err := s.requireRedis(); err != nil {
		return err
	}
	if token == "" {
		return models.NewValidationError("휴대폰 인증이 필요합니다")
	}
	got, err := s.rdb.GetDel(ctx, cache.VerifiedKey(string(purpose), token)).Result()
	if errors.Is(err, redis.Nil) {
		return models.NewValidationError("휴대폰 인증이 만료되었습니다. 다시 인증해주세요")
	}
	if err != nil {
		return models.NewUnavailableError("인증을 확인할 수 없습니다", err)
	}
	if got != phone {
		return models.NewValidationError("인증된 휴대폰 번호와 일치하지 않습니다")
	}
	return nil
}

// SignupInput is the registration form.
type SignupInput struct {
	Username          string `json:"username"`
	Nickname          string `json:"nickname"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	Name              string `json:"name"`
	BirthDate         string `json:"birth_date"`
	Phone             string `json:"phone"`
	VerificationToken string `json:"verification_token"`
	AgreeTerms        bool   `json:"agree_terms"`
	AgreePrivacy      bool   `json:"agree_privacy"`
	AgreeMarketing    bool   `json:"agree_marketing"`
	IP                string `json:"-"`
}

// AuthResult is returned by signup, login and refresh.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (s *AuthService) validateSignup(in *SignupInput) error {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Nickname = strings.TrimSpace(in.Nickname)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	if !in.AgreeTerms || !in.AgreePrivacy {
		return models.NewValidationError("필수 약관에 동의해주세요")
	}
	if err := validation.ValidateUsername(in.Username); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateNickname(in.Nickname); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateLength("이름", in.Name, 2, 20); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateBirthDate(in.BirthDate, s.now()); err != nil {
		return models.NewValidationError(err.Error())
	}
	phone, err := validation.NormalizePhone(in.Phone)
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	in.Phone = phone
	return nil
}

var availabilityMessages = map[string]string{
	"username": "이미 사용 중인 아이디입니다",
	"nickname": "이미 사용 중인 닉네임입니다",
	"email":    "이미 사용 중인 이메일입니다",
	"phone":    "이미 가입된 휴대폰 번호입니다",
}

// Signup registers a phone-verified member and pays the signup bonus.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	if err := s.validateSignup(&in); err != nil {
		return nil, err
	}

	for _, f := range []struct{ field, value string }{
		{"username", in.Username}, {"nickname", in.Nickname}, {"email", in.Email}, {"phone", in.Phone},
	} {
		taken, err := s.users.Exists(ctx, f.field, f.value)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, models.NewConflictError(availabilityMessages[f.field])
		}
	}

	if err := s.consumeToken(ctx, PurposeSignup, in.VerificationToken, in.Phone); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	verifiedAt := s.now()
	user := &models.User{
		Username:        in.Username,
		Nickname:        in.Nickname,
		Email:           in.Email,
		Password:        string(hash),
		Name:            in.Name,
		BirthDate:       in.BirthDate,
		Phone:           in.Phone,
		PhoneVerifiedAt: &verifiedAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewUserRepository(tx, nil).Create(ctx, user); err != nil {
			return err
		}
		if s.signupBonus <= 0 {
			return nil
		}
		row, err := s.points.ApplyTx(ctx, tx, points.Entry{
			UserID: user.ID,
			Type:   models.CoinSignupBonus,
			Amount: s.signupBonus,
			Memo:   "회원가입 축하 KOR-Coin",
		})
		if err != nil {
			return err
		}
		user.KorCoinBalance = row.BalanceAfter
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.Record(ctx, ActivityEntry{
		ActorID:    user.ID,
		Action:     models.ActionSignup,
		TargetType: "user",
		TargetID:   user.ID,
		Detail:     map[string]interface{}{"agree_marketing": in.AgreeMarketing},
		IP:         in.IP,
	})
	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, claims, err := middleware.IssueToken(s.secret, user.ID, user.Username, s.now())
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &AuthResult{Token: token, ExpiresAt: claims.ExpiresAt, User: user}, nil
}

func bannedError(u *models.User) error {
	msg := "이용이 제한된 계정입니다"
	if u.BannedReason != "" {
		msg += ": " + u.BannedReason
	}
	return models.NewForbiddenError(msg)
}

// Login authenticates by username or email.
func (s *AuthService) Login(ctx context.Context, login, password, ip string) (*AuthResult, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return nil, models.NewValidationError("아이디와 비밀번호를 입력해주세요")
	}
	user, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, models.NewUnauthorizedError("아이디 또는 비밀번호가 올바르지 않습니다")
	}
	if user.IsBanned {
		return nil, bannedError(user)
	}

	s.activity.Record(ctx, ActivityEntry{ActorID: user.ID, Action: models.ActionLogin, TargetType: "user", TargetID: user.ID, IP: ip})
	return s.issue(user)
}

// Logout revokes the token's jti until it would have expired.
func (s *AuthService) Logout(ctx context.Context, claims middleware.TokenClaims) error {
	if s.rdb == nil || claims.JTI == "" {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cache.BlacklistKey(claims.JTI), "1", ttl).Err()
}

// IsRevoked reports whether jti was logged out. Redis errors fail open.
func (s *AuthService) IsRevoked(ctx context.Context, jti string) bool {
	if s.rdb == nil || jti == "" {
		return false
	}
	n, err := s.rdb.Exists(ctx, cache.BlacklistKey(jti)).Result()
	return err == nil && n > 0
}

// Refresh issues a new token and revokes the presented one.
func (s *AuthService) Refresh(ctx context.Context, claims middleware.TokenClaims) (*AuthResult, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, bannedError(user)
	}
	res, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.Logout(ctx, claims); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke refreshed token", slog.Any("error", err))
	}
	return res, nil
}

// CheckAvailability reports whether value is free for field.
func (s *AuthService) CheckAvailability(ctx context.Context, field, value string) (bool, error) {
	value = strings.TrimSpace(value)
	var err error
	switch field {
	case "username":
		value = strings.ToLower(value)
		err = validation.ValidateUsername(value)
	case "nickname":
		err = validation.ValidateNickname(value)
	case "email":
		err = validation.ValidateEmail(value)
	default:
		return false, models.NewValidationError("username, nickname, email 중 하나를 지정해주세요")
	}
	if err != nil {
		return false, models.NewValidationError(err.Error())
	}
	taken, err := s.users.Exists(ctx, field, value)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// MaskUsername hides the second half of a login id.
func MaskUsername(username string) string {
	n := len(username)
	keep := n / 2
	if keep < 2 {
		keep = min(2, n)
	}
	return username[:keep] + strings.Repeat("*", n-keep)
}

// FoundUsername is the find-username response.
type FoundUsername struct {
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

// FindUsername returns the masked login id registered to a verified phone.
func (s *AuthService) FindUsername(ctx context.Context, rawPhone, token string) (*FoundUsername, error) {
	phone, err := validation.NormalizePhone(rawPhone)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := s.consumeToken(ctx, PurposeFindUsername, token, phone); err != nil {
		return nil, err
	}
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewNotFoundMessage("가입되지 않은 휴대폰 번호입니다")
	}
	return &FoundUsername{Username: MaskUsername(user.Username), JoinedAt: user.CreatedAt}, nil
}

// ResetPassword sets a new password for the member owning a verified phone.
func (s *AuthService) ResetPassword(ctx context.Context, rawPhone, token, newPassword, ip string) error {
	phone, err := validation.NormalizePhone(rawPhone)
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(newPassword); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := s.consumeToken(ctx, PurposeResetPassword, token, phone); err != nil {
		return err
	}
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if user == nil {
		return models.NewNotFoundMessage("가입되지 않은 휴대폰 번호입니다")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	s.activity.Record(ctx, ActivityEntry{ActorID: user.ID, Action: models.ActionPasswordReset, TargetType: "user", TargetID: user.ID, IP: ip})
	return nil
}
