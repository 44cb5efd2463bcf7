package server

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	signupPhone    = "010-1234-5678"
	signupPhoneRaw = "01012345678"
	signupPassword = "s3cret!pass"
)

// verifyPhone runs send + confirm and returns the verification token.
func (ts *testServer) verifyPhone(t *testing.T, phone, normalized, purpose string) string {
	t.Helper()
	var sent service.SendResult
	status := ts.doJSON(t, http.MethodPost, "/api/auth/verification/send",
		map[string]string{"phone": phone, "purpose": purpose}, "", &sent)
	require.Equal(t, http.StatusOK, status)
	assert.Positive(t, sent.ExpiresIn)

	var confirmed struct {
		VerificationToken string `json:"verification_token"`
	}
	status = ts.doJSON(t, http.MethodPost, "/api/auth/verification/confirm", map[string]string{
		"phone": phone, "purpose": purpose, "code": ts.sms.lastCode(t, normalized),
	}, "", &confirmed)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, confirmed.VerificationToken)
	return confirmed.VerificationToken
}

func signupBody(token string) service.SignupInput {
	return service.SignupInput{
		Username:          "trader_kim",
		Nickname:          "김트레이더",
		Email:             "kim@example.com",
		Password:          signupPassword,
		Name:              "김철수",
		BirthDate:         "19900115",
		Phone:             signupPhone,
		VerificationToken: token,
		AgreeTerms:        true,
		AgreePrivacy:      true,
	}
}

func TestSignupLoginRefreshLogout(t *testing.T) {
	ts := newTestServer(t)

	token := ts.verifyPhone(t, signupPhone, signupPhoneRaw, "signup")

	var signed service.AuthResult
	status := ts.doJSON(t, http.MethodPost, "/api/auth/signup", signupBody(token), "", &signed)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, signed.Token)
	assert.Equal(t, "trader_kim", signed.User.Username)
	assert.InDelta(t, 1000, signed.User.KorCoinBalance, 1e-9)

	// The phone is now registered.
	status, raw := ts.do(t, http.MethodPost, "/api/auth/signup", signupBody(token), "")
	assert.Equal(t, http.StatusConflict, status, string(raw))

	var availability struct {
		Field     string `json:"field"`
		Available bool   `json:"available"`
	}
	status = ts.doJSON(t, http.MethodGet, "/api/auth/check?username=trader_kim", nil, "", &availability)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "username", availability.Field)
	assert.False(t, availability.Available)

	var loggedIn service.AuthResult
	status = ts.doJSON(t, http.MethodPost, "/api/auth/login",
		map[string]string{"login": "trader_kim", "password": signupPassword}, "", &loggedIn)
	require.Equal(t, http.StatusOK, status)

	var refreshed service.AuthResult
	status = ts.doJSON(t, http.MethodPost, "/api/auth/refresh", nil, loggedIn.Token, &refreshed)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, loggedIn.Token, refreshed.Token)

	status, _ = ts.do(t, http.MethodGet, "/api/me", nil, loggedIn.Token)
	assert.Equal(t, http.StatusUnauthorized, status, "refreshed token must be revoked")

	status, _ = ts.do(t, http.MethodGet, "/api/me", nil, refreshed.Token)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, "/api/auth/logout", nil, refreshed.Token)
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodGet, "/api/me", nil, refreshed.Token)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogin_WrongPassword(t *testing.T) {
	ts := newTestServer(t)
	token := ts.verifyPhone(t, signupPhone, signupPhoneRaw, "signup")
	status, _ := ts.do(t, http.MethodPost, "/api/auth/signup", signupBody(token), "")
	require.Equal(t, http.StatusCreated, status)

	status, raw := ts.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"login": "trader_kim", "password": "wrong-pass1"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, models.CodeUnauthorized, errorCode(t, raw))
}

func TestConfirmVerificationCode_WrongCode(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/api/auth/verification/send",
		map[string]string{"phone": signupPhone}, "")
	require.Equal(t, http.StatusOK, status)

	code := ts.sms.lastCode(t, signupPhoneRaw)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	status, raw := ts.do(t, http.MethodPost, "/api/auth/verification/confirm",
		map[string]string{"phone": signupPhone, "code": wrong}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeValidation, errorCode(t, raw))
}

func TestSendVerificationCode_Cooldown(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodPost, "/api/auth/verification/send",
		map[string]string{"phone": signupPhone}, "")
	require.Equal(t, http.StatusOK, status)

	status, raw := ts.do(t, http.MethodPost, "/api/auth/verification/send",
		map[string]string{"phone": signupPhone}, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, models.CodeRateLimited, errorCode(t, raw))
}

func TestSendVerificationCode_RegisteredPhoneConflicts(t *testing.T) {
	ts := newTestServer(t)
	u, _ := ts.member(t, "existing", 0)

	status, raw := ts.do(t, http.MethodPost, "/api/auth/verification/send",
		map[string]string{"phone": u.Phone, "purpose": "signup"}, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.CodeConflict, errorCode(t, raw))
}

func TestCheckAvailability_RequiresExactlyOneField(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodGet, "/api/auth/check?username=a&email=b@example.com", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	var availability struct {
		Available bool `json:"available"`
	}
	status = ts.doJSON(t, http.MethodGet, "/api/auth/check?nickname="+url.QueryEscape("새닉네임"), nil, "", &availability)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, availability.Available)
}

func TestFindUsernameAndResetPassword(t *testing.T) {
	ts := newTestServer(t)
	token := ts.verifyPhone(t, signupPhone, signupPhoneRaw, "signup")
	status, _ := ts.do(t, http.MethodPost, "/api/auth/signup", signupBody(token), "")
	require.Equal(t, http.StatusCreated, status)

	// A fresh cooldown window for the recovery codes.
	ts.mr.FastForward(2 * time.Minute)

	findToken := ts.verifyPhone(t, signupPhone, signupPhoneRaw, "find_username")
	var found service.FoundUsername
	status = ts.doJSON(t, http.MethodPost, "/api/auth/find-username", map[string]string{
		"phone": signupPhone, "verification_token": findToken,
	}, "", &found)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, found.Username)
	assert.NotEqual(t, "trader_kim", found.Username, "username is masked")

	ts.mr.FastForward(2 * time.Minute)

	resetToken := ts.verifyPhone(t, signupPhone, signupPhoneRaw, "reset_password")
	status, _ = ts.do(t, http.MethodPost, "/api/auth/password/reset", map[string]string{
		"phone": signupPhone, "verification_token": resetToken, "new_password": "n3w-password",
	}, "")
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"login": "trader_kim", "password": "n3w-password"}, "")
	assert.Equal(t, http.StatusOK, status)
}
