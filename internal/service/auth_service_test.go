package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kortrade/internal/cache"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/points"
	"kortrade/internal/repository"
	"kortrade/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const authTestSecret = "test-secret-key-12345678901234567890123456789012"

type sentSMS struct {
	phone   string
	message string
}

type recordingSender struct {
	sent []sentSMS
	err  error
}

func (r *recordingSender) Send(_ context.Context, phone, message string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentSMS{phone: phone, message: message})
	return nil
}

type authFixture struct {
	svc    *AuthService
	db     *gorm.DB
	mr     *miniredis.Miniredis
	sender *recordingSender
	users  repository.UserRepository
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr, rdb := testutil.NewTestRedis(t)
	users := repository.NewUserRepository(db, rdb)
	sender := &recordingSender{}
	svc := NewAuthService(db, rdb, users, points.NewService(db, rdb), sender,
		NewActivityRecorder(repository.NewActivityLogRepository(db)),
		AuthConfig{JWTSecret: authTestSecret, SignupBonus: 1000})
	svc.newCode = func() (string, error) { return "123456", nil }
	return &authFixture{svc: svc, db: db, mr: mr, sender: sender, users: users}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func (f *authFixture) verify(t *testing.T, phone string, purpose Purpose) string {
	t.Helper()
	_, err := f.svc.SendCode(context.Background(), phone, purpose)
	require.NoError(t, err)
	token, err := f.svc.ConfirmCode(context.Background(), phone, purpose, "123456")
	require.NoError(t, err)
	return token
}

func validSignup(token string) SignupInput {
	return SignupInput{
		Username:          "Trader_Kim",
		Nickname:          "김트레이더",
		Email:             "kim@example.com",
		Password:          "s3cret!pass",
		Name:              "김철수",
		BirthDate:         "19900115",
		Phone:             "010-1234-5678",
		VerificationToken: token,
		AgreeTerms:        true,
		AgreePrivacy:      true,
	}
}

func TestAuthService_SendCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendCode(ctx, "010-1234-5678", PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, 180, res.ExpiresIn)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "01012345678", f.sender.sent[0].phone)
	assert.Contains(t, f.sender.sent[0].message, "[123456]")

	// cooldown
	_, err = f.svc.SendCode(ctx, "01012345678", PurposeSignup)
	assertCode(t, err, models.CodeRateLimited)

	// reset needs a registered phone
	_, err = f.svc.SendCode(ctx, "01099998888", PurposeResetPassword)
	assertCode(t, err, models.CodeNotFound)

	_, err = f.svc.SendCode(ctx, "02-123-4567", PurposeSignup)
	assertCode(t, err, models.CodeValidation)
	_, err = f.svc.SendCode(ctx, "01012345678", Purpose("bogus"))
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_SendCode_HourlyQuota(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < smsHourlyLimit; i++ {
		_, err := f.svc.SendCode(ctx, "01012345678", PurposeSignup)
		require.NoError(t, err)
		f.mr.Del(cache.SMSCooldownKey("01012345678"))
	}
	_, err := f.svc.SendCode(ctx, "01012345678", PurposeSignup)
	assertCode(t, err, models.CodeRateLimited)
}

func TestAuthService_SendCode_DeliveryFailureClearsCode(t *testing.T) {
	f := newAuthFixture(t)
	f.sender.err = errors.New("gateway down")

	_, err := f.svc.SendCode(context.Background(), "01012345678", PurposeSignup)
	assertCode(t, err, models.CodeUnavailable)
	assert.False(t, f.mr.Exists(cache.VerifyCodeKey("signup", "01012345678")))
	assert.False(t, f.mr.Exists(cache.SMSCooldownKey("01012345678")))
}

func TestAuthService_ConfirmCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmCode(ctx, "01012345678", PurposeSignup, "123456")
	assertCode(t, err, models.CodeValidation) // nothing sent yet

	_, err = f.svc.SendCode(ctx, "01012345678", PurposeSignup)
	require.NoError(t, err)

	_, err = f.svc.ConfirmCode(ctx, "01012345678", PurposeSignup, "000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4회")

	token, err := f.svc.ConfirmCode(ctx, "01012345678", PurposeSignup, "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := f.mr.Get(cache.VerifiedKey("signup", token))
	require.NoError(t, err)
	assert.Equal(t, "01012345678", got)

	// the code is single use
	_, err = f.svc.ConfirmCode(ctx, "01012345678", PurposeSignup, "123456")
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_ConfirmCode_BurnsAfterMaxAttempts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.SendCode(ctx, "01012345678", PurposeSignup)
	require.NoError(t, err)

	for i := 0; i < maxCodeAttempts; i++ {
		_, err = f.svc.ConfirmCode(ctx, "01012345678", PurposeSignup, "999999")
		require.Error(t, err)
	}
	assert.False(t, f.mr.Exists(cache.VerifyCodeKey("signup", "01012345678")))

	_, err = f.svc.ConfirmCode(ctx, "01012345678", PurposeSignup, "123456")
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_FailedAttemptOnExpiredCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	key := cache.VerifyCodeKey("signup", "01012345678")

	n, err := f.svc.countFailedAttempt(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
	assert.False(t, f.mr.Exists(key), "an expired code must not be recreated")

	_, err = f.svc.SendCode(ctx, "01012345678", PurposeSignup)
	require.NoError(t, err)
	n, err = f.svc.countFailedAttempt(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, f.mr.TTL(key) > 0, "the code keeps its expiry")
}

func TestAuthService_Signup(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	token := f.verify(t, "01012345678", PurposeSignup)

	res, err := f.svc.Signup(ctx, validSignup(token))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "trader_kim", res.User.Username)
	assert.Equal(t, "01012345678", res.User.Phone)
	assert.Equal(t, 1000.0, res.User.KorCoinBalance)
	assert.NotNil(t, res.User.PhoneVerifiedAt)

	claims, err := middleware.ParseToken(authTestSecret, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	var ledger []models.CoinTransaction
	require.NoError(t, f.db.Where("user_id = ?", res.User.ID).Find(&ledger).Error)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.CoinSignupBonus, ledger[0].Type)

	// token already consumed
	in := validSignup(token)
	in.Username, in.Nickname, in.Email, in.Phone = "other_user", "다른사람", "other@example.com", "01055556666"
	_, err = f.svc.Signup(ctx, in)
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_Signup_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	testutil.CreateUser(t, f.db, "taken_name", 0)

	tests := []struct {
		name   string
		mutate func(*SignupInput)
		code   string
	}{
		{"terms not agreed", func(in *SignupInput) { in.AgreeTerms = false }, models.CodeValidation},
		{"weak password", func(in *SignupInput) { in.Password = "password" }, models.CodeValidation},
		{"too young", func(in *SignupInput) { in.BirthDate = time.Now().AddDate(-10, 0, 0).Format("20060102") }, models.CodeValidation},
		{"bad nickname", func(in *SignupInput) { in.Nickname = "a" }, models.CodeValidation},
		{"username taken", func(in *SignupInput) { in.Username = "taken_name" }, models.CodeConflict},
		{"missing token", func(in *SignupInput) { in.VerificationToken = "" }, models.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validSignup("")
			in.VerificationToken = "unused"
			tt.mutate(&in)
			_, err := f.svc.Signup(ctx, in)
			assertCode(t, err, tt.code)
		})
	}
}

func TestAuthService_Signup_TokenForOtherPhone(t *testing.T) {
	f := newAuthFixture(t)
	token := f.verify(t, "01011112222", PurposeSignup)

	_, err := f.svc.Signup(context.Background(), validSignup(token))
	assertCode(t, err, models.CodeValidation)
}

func TestAuthService_LoginLogoutRefresh(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	token := f.verify(t, "01012345678", PurposeSignup)
	_, err := f.svc.Signup(ctx, validSignup(token))
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "trader_kim", "wrong!pass1", "")
	assertCode(t, err, models.CodeUnauthorized)
	_, err = f.svc.Login(ctx, "nobody", "s3cret!pass", "")
	assertCode(t, err, models.CodeUnauthorized)

	res, err := f.svc.Login(ctx, "KIM@example.com", "s3cret!pass", "1.2.3.4")
	require.NoError(t, err)

	claims, err := middleware.ParseToken(authTestSecret, res.Token)
	require.NoError(t, err)
	assert.False(t, f.svc.IsRevoked(ctx, claims.JTI))

	refreshed, err := f.svc.Refresh(ctx, claims)
	require.NoError(t, err)
	assert.NotEqual(t, res.Token, refreshed.Token)
	assert.True(t, f.svc.IsRevoked(ctx, claims.JTI))

	newClaims, err := middleware.ParseToken(authTestSecret, refreshed.Token)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, newClaims))
	assert.True(t, f.svc.IsRevoked(ctx, newClaims.JTI))

	require.NoError(t, f.users.SetBanned(ctx, res.User.ID, true, "도배"))
	_, err = f.svc.Login(ctx, "trader_kim", "s3cret!pass", "")
	assertCode(t, err, models.CodeForbidden)
	assert.Contains(t, err.Error(), "도배")
}

func TestAuthService_CheckAvailability(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	testutil.CreateUser(t, f.db, "existing", 0)

	free, err := f.svc.CheckAvailability(ctx, "username", "EXISTING")
	require.NoError(t, err)
	assert.False(t, free)

	free, err = f.svc.CheckAvailability(ctx, "username", "fresh_one")
	require.NoError(t, err)
	assert.True(t, free)

	_, err = f.svc.CheckAvailability(ctx, "phone", "01012345678")
	assertCode(t, err, models.CodeValidation)
}

func TestMaskUsername(t *testing.T) {
	assert.Equal(t, "trade*****", MaskUsername("trader_kim"))
	assert.Equal(t, "ab**", MaskUsername("abcd"))
	assert.Equal(t, "ab", MaskUsername("ab"))
}

func TestAuthService_FindUsernameAndResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	signupToken := f.verify(t, "01012345678", PurposeSignup)
	_, err := f.svc.Signup(ctx, validSignup(signupToken))
	require.NoError(t, err)
	f.mr.Del(cache.SMSCooldownKey("01012345678"))

	findToken := f.verify(t, "01012345678", PurposeFindUsername)
	found, err := f.svc.FindUsername(ctx, "01012345678", findToken)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(found.Username, "trade"))
	assert.Contains(t, found.Username, "*")

	// a find-username token cannot reset a password
	f.mr.Del(cache.SMSCooldownKey("01012345678"))
	findToken = f.verify(t, "01012345678", PurposeFindUsername)
	err = f.svc.ResetPassword(ctx, "01012345678", findToken, "n3w!password", "")
	assertCode(t, err, models.CodeValidation)

	f.mr.Del(cache.SMSCooldownKey("01012345678"))
	resetToken := f.verify(t, "01012345678", PurposeResetPassword)
	require.NoError(t, f.svc.ResetPassword(ctx, "01012345678", resetToken, "n3w!password", ""))

	_, err = f.svc.Login(ctx, "trader_kim", "n3w!password", "")
	require.NoError(t, err)
}
