package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Logger
	Logger = newLogger(&buf, "production", "debug")
	t.Cleanup(func() { Logger = prev })
	return &buf
}

func TestStructuredLogger_CarriesRequestContext(t *testing.T) {
	buf := captureLogs(t)

	app := fiber.New()
	app.Use(requestid.New(), ContextMiddleware(), StructuredLogger())
	app.Get("/api/posts", func(c *fiber.Ctx) error {
		c.SetUserContext(WithUserID(c.UserContext(), 42))
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/posts?token=secret-jwt", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "request processed", rec["msg"])
	assert.Equal(t, "/api/posts", rec["path"])
	assert.Equal(t, float64(42), rec["user_id"])
	assert.NotEmpty(t, rec["request_id"])
	assert.NotContains(t, buf.String(), "secret-jwt")
}

func TestComponentLogger(t *testing.T) {
	buf := captureLogs(t)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	Component("points").InfoContext(ctx, "coins granted")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "points", rec["component"])
	assert.Equal(t, "req-1", rec["request_id"])
}
