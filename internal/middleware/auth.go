// Package middleware provides authentication, logging, rate limiting and
// tracing middleware for the application.
package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenIssuer   = "kortrade-api"
	TokenAudience = "kortrade-client"
	TokenTTL      = 7 * 24 * time.Hour
)

var (
	ErrTokenInvalid  = errors.New("invalid or expired token")
	ErrTokenIssuer   = errors.New("invalid token issuer")
	ErrTokenAudience = errors.New("invalid token audience")
	ErrTokenSubject  = errors.New("invalid subject claim")
)

// TokenClaims is the parsed subset of an access token.
type TokenClaims struct {
	UserID    uint
	Username  string
	JTI       string
	ExpiresAt time.Time
}

// IssueToken signs an HS256 access token for the user.
func IssueToken(secret string, userID uint, username string, now time.Time) (string, TokenClaims, error) {
	jti := uuid.NewString()
	exp := now.Add(TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      strconv.FormatUint(uint64(userID), 10),
		"username": username,
		"iss":      TokenIssuer,
		"aud":      TokenAudience,
		"exp":      exp.Unix(),
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"jti":      jti,
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", TokenClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, TokenClaims{UserID: userID, Username: username, JTI: jti, ExpiresAt: exp}, nil
}

// ParseToken validates signature, expiry, issuer and audience and returns
// the claims the server relies on.
func ParseToken(secret, tokenString string) (TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return TokenClaims{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, ErrTokenInvalid
	}
	if issuer, ok := claims["iss"].(string); !ok || issuer != TokenIssuer {
		return TokenClaims{}, ErrTokenIssuer
	}
	if audience, ok := claims["aud"].(string); !ok || audience != TokenAudience {
		return TokenClaims{}, ErrTokenAudience
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return TokenClaims{}, ErrTokenSubject
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil {
		return TokenClaims{}, ErrTokenSubject
	}

	out := TokenClaims{UserID: uint(userID)}
	out.Username, _ = claims["username"].(string)
	out.JTI, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *fiber.Ctx) string {
	parts := strings.Split(c.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
