package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func signClaims(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestIssueAndParseToken(t *testing.T) {
	now := time.Now()
	token, issued, err := IssueToken(testSecret, 42, "trader_01", now)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.JTI)
	assert.Equal(t, now.Add(TokenTTL).Unix(), issued.ExpiresAt.Unix())

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "trader_01", claims.Username)
	assert.Equal(t, issued.JTI, claims.JTI)
	assert.Equal(t, issued.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestParseToken_Rejects(t *testing.T) {
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": strconv.Itoa(7),
			"iss": TokenIssuer,
			"aud": TokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name: "Expired",
			token: func() string {
				c := valid()
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return signClaims(t, c, testSecret)
			},
			wantErr: ErrTokenInvalid,
		},
		{
			name:    "Wrong Secret",
			token:   func() string { return signClaims(t, valid(), "another-secret") },
			wantErr: ErrTokenInvalid,
		},
		{
			name: "Wrong Issuer",
			token: func() string {
				c := valid()
				c["iss"] = "someone-else"
				return signClaims(t, c, testSecret)
			},
			wantErr: ErrTokenIssuer,
		},
		{
			name: "Wrong Audience",
			token: func() string {
				c := valid()
				c["aud"] = "other-client"
				return signClaims(t, c, testSecret)
			},
			wantErr: ErrTokenAudience,
		},
		{
			name: "Non Numeric Subject",
			token: func() string {
				c := valid()
				c["sub"] = "abc"
				return signClaims(t, c, testSecret)
			},
			wantErr: ErrTokenSubject,
		},
		{
			name:    "Garbage",
			token:   func() string { return "not-a-jwt" },
			wantErr: ErrTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(testSecret, tt.token())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBearerToken(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(BearerToken(c))
	})

	cases := map[string]string{
		"Bearer abc.def": "abc.def",
		"Basic abc":      "",
		"Bearer":         "",
		"":               "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		buf := make([]byte, 64)
		n, _ := resp.Body.Read(buf)
		_ = resp.Body.Close()
		assert.Equal(t, want, string(buf[:n]), "header %q", header)
	}
}
