package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"kortrade/internal/models"
	"kortrade/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (ts *testServer) upload(t *testing.T, token, filename, contentType string, content []byte) (int, []byte) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if content != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestUploadImage(t *testing.T) {
	ts := newTestServer(t)
	u, token := ts.member(t, "uploader", 0)

	status, raw := ts.upload(t, token, "profit.png", "image/png", testutil.PNGBytes(2000, 1000))
	require.Equal(t, http.StatusCreated, status, string(raw))

	var img models.Image
	require.NoError(t, json.Unmarshal(raw, &img))
	assert.Equal(t, u.ID, img.UserID)
	assert.Equal(t, 1280, img.Width)
	assert.Equal(t, 640, img.Height)
	assert.Contains(t, img.URL, ".webp")

	// Same bytes from the same member resolve to the stored image.
	status, raw = ts.upload(t, token, "again.png", "image/png", testutil.PNGBytes(2000, 1000))
	require.Equal(t, http.StatusCreated, status)
	var again models.Image
	require.NoError(t, json.Unmarshal(raw, &again))
	assert.Equal(t, img.ID, again.ID)

	var mine []models.Image
	status = ts.doJSON(t, http.MethodGet, "/api/me/images", nil, token, &mine)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, mine, 1)
}

func TestUploadImage_Rejected(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.member(t, "uploader", 0)

	tests := []struct {
		name        string
		filename    string
		contentType string
		content     []byte
	}{
		{"missing file", "", "", nil},
		{"not an image", "notes.txt", "text/plain", []byte("hello, this is not an image")},
		{"declared type mismatch", "chart.jpg", "image/jpeg", testutil.PNGBytes(10, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := ts.upload(t, token, tt.filename, tt.contentType, tt.content)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, models.CodeValidation, errorCode(t, raw))
		})
	}
}

func TestUploadImage_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	status, _ := ts.do(t, http.MethodPost, "/api/images", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}
