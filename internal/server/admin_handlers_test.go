package server

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"kortrade/internal/models"
	"kortrade/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminRoutes_RejectMembers(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.member(t, "regular", 0)

	for _, path := range []string{"/api/admin/dashboard", "/api/admin/users", "/api/admin/notes", "/api/admin/feature-flags"} {
		status, raw := ts.do(t, http.MethodGet, path, nil, token)
		assert.Equal(t, http.StatusForbidden, status, path)
		assert.Equal(t, models.CodeForbidden, errorCode(t, raw), path)
	}
}

func TestAdminDashboard(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.admin(t, "operator")
	_, memberToken := ts.member(t, "poster", 500)
	ts.createPost(t, memberToken, "대시보드용 글")

	var d service.Dashboard
	status := ts.doJSON(t, http.MethodGet, "/api/admin/dashboard", nil, adminToken, &d)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), d.Users)
	assert.Equal(t, int64(1), d.Posts)
	assert.InDelta(t, 510, d.CoinSupply, 1e-9)
}

func TestAdminBanUser(t *testing.T) {
	ts := newTestServer(t)
	operator, adminToken := ts.admin(t, "operator")
	target, targetToken := ts.member(t, "troll", 0)

	status, _ := ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/ban", operator.ID), nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, status, "self ban")

	banPath := fmt.Sprintf("/api/admin/users/%d/ban", target.ID)
	status, _ = ts.do(t, http.MethodPost, banPath, map[string]string{"reason": "도배"}, adminToken)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = ts.do(t, http.MethodGet, "/api/me", nil, targetToken)
	assert.Equal(t, http.StatusForbidden, status)

	var users struct {
		Items []models.User `json:"items"`
		Total int64         `json:"total"`
	}
	status = ts.doJSON(t, http.MethodGet, "/api/admin/users?banned=true", nil, adminToken, &users)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, int64(1), users.Total)
	assert.Equal(t, target.ID, users.Items[0].ID)

	var logs struct {
		Items []models.ActivityLog `json:"items"`
		Total int64                `json:"total"`
	}
	status = ts.doJSON(t, http.MethodGet, "/api/admin/activity-logs?action="+url.QueryEscape(models.ActionUserBan), nil, adminToken, &logs)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, int64(1), logs.Total)
	assert.Equal(t, target.ID, logs.Items[0].TargetID)

	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/unban", target.ID), nil, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodGet, "/api/me", nil, targetToken)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminPromoteAndDemote(t *testing.T) {
	ts := newTestServer(t)
	operator, adminToken := ts.admin(t, "operator")
	target, targetToken := ts.member(t, "helper", 0)

	status, _ := ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/promote", target.ID), nil, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodGet, "/api/admin/dashboard", nil, targetToken)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/ban", target.ID), nil, adminToken)
	assert.Equal(t, http.StatusForbidden, status, "admins cannot be banned")

	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/demote", operator.ID), nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, status, "self demote")

	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/demote", target.ID), nil, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodGet, "/api/admin/dashboard", nil, targetToken)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAdminAdjustCoins(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.admin(t, "operator")
	target, _ := ts.member(t, "winner", 100)
	path := fmt.Sprintf("/api/admin/users/%d/coins", target.ID)

	var tx models.CoinTransaction
	status := ts.doJSON(t, http.MethodPost, path, map[string]any{"amount": 250, "memo": "이벤트 당첨"}, adminToken, &tx)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 100, tx.BalanceBefore, 1e-9)
	assert.InDelta(t, 350, tx.BalanceAfter, 1e-9)
	assert.InDelta(t, 350, ts.balance(t, target.ID), 1e-9)

	status, raw := ts.do(t, http.MethodPost, path, map[string]any{"amount": -1000}, adminToken)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, models.CodeInsufficientBalance, errorCode(t, raw))

	status, _ = ts.do(t, http.MethodPost, path, map[string]any{"amount": 0}, adminToken)
	assert.Equal(t, http.StatusBadRequest, status)

	var holders []service.Holder
	status = ts.doJSON(t, http.MethodGet, "/api/admin/economy/holders?limit=5", nil, adminToken, &holders)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, holders)
	assert.Equal(t, target.ID, holders[0].User.ID)
	assert.Equal(t, 1, holders[0].Rank)
}

func TestAdminEconomy_BadRange(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.admin(t, "operator")

	status, _ := ts.do(t, http.MethodGet, "/api/admin/economy?from=2026-03-10&to=2026-03-01", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodGet, "/api/admin/economy?from=yesterday", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, status)

	var buckets []service.EconomyBucket
	status = ts.doJSON(t, http.MethodGet, "/api/admin/economy?from=2026-03-01&to=2026-03-03", nil, adminToken, &buckets)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, buckets, 3)
}

func TestAdminPostModeration(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.admin(t, "operator")
	_, memberToken := ts.member(t, "poster", 0)
	post := ts.createPost(t, memberToken, "숨길 글")
	postPath := fmt.Sprintf("/api/posts/%d", post.ID)

	status, _ := ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/posts/%d/hide", post.ID), map[string]string{"reason": "광고"}, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodGet, postPath, nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	var hidden struct {
		Items []models.Post `json:"items"`
		Total int64         `json:"total"`
	}
	status = ts.doJSON(t, http.MethodGet, "/api/admin/posts?status=hidden", nil, adminToken, &hidden)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), hidden.Total)

	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/posts/%d/restore", post.ID), nil, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodGet, postPath, nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/posts/%d/notice", post.ID), map[string]bool{"notice": true}, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	var got models.Post
	status = ts.doJSON(t, http.MethodGet, postPath, nil, "", &got)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, got.IsNotice)

	status, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/posts/%d", post.ID), nil, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodGet, postPath, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminNotes(t *testing.T) {
	ts := newTestServer(t)
	operator, adminToken := ts.admin(t, "operator")
	target, _ := ts.member(t, "watched", 0)

	status, _ := ts.do(t, http.MethodPost, "/api/admin/notes", service.NoteInput{Title: "", Content: "본문"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, status)

	var note models.AdminNote
	status = ts.doJSON(t, http.MethodPost, "/api/admin/notes", service.NoteInput{
		Title: "주의 회원", Content: "욕설 신고 2회", TargetUserID: &target.ID,
	}, adminToken, &note)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, operator.ID, note.AuthorID)

	var list struct {
		Items []models.AdminNote `json:"items"`
		Total int64              `json:"total"`
	}
	status = ts.doJSON(t, http.MethodGet, fmt.Sprintf("/api/admin/notes?target_user_id=%d", target.ID), nil, adminToken, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), list.Total)

	var updated models.AdminNote
	status = ts.doJSON(t, http.MethodPut, fmt.Sprintf("/api/admin/notes/%d", note.ID), service.NoteInput{
		Title: "주의 회원", Content: "욕설 신고 3회", Pinned: true,
	}, adminToken, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, updated.Pinned)
	assert.Equal(t, "욕설 신고 3회", updated.Content)

	status, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/notes/%d", note.ID), nil, adminToken)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/notes/%d", note.ID), nil, adminToken)
	assert.Equal(t, http.StatusNotFound, status)
}
