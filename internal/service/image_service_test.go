package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kortrade/internal/config"
	"kortrade/internal/models"
	"kortrade/internal/testutil"
)

type failingStore struct{ err error }

func (f failingStore) Put(context.Context, string, []byte, string) (string, error) { return "", f.err }
func (f failingStore) Delete(context.Context, string) error                        { return nil }

func TestImageServiceUploadStoresWebPAndDedupes(t *testing.T) {
	repo := testutil.NewImageRepoStub()
	store := testutil.NewMemoryStore()
	svc := NewImageService(repo, store, &config.Config{ImageMaxUploadSizeMB: 1})

	content := testutil.PNGBytes(120, 80)
	img, err := svc.Upload(context.Background(), UploadImageInput{
		UserID:      42,
		Filename:    "proof.png",
		ContentType: "image/png",
		Content:     content,
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if img.ID == 0 || len(img.Hash) != 64 {
		t.Fatalf("expected persisted image metadata, got %+v", img)
	}
	key := imageKey(img.Hash)
	if _, ok := store.Objects[key]; !ok {
		t.Fatalf("expected object %s in store", key)
	}
	if store.Types[key] != "image/webp" {
		t.Fatalf("expected webp content type, got %q", store.Types[key])
	}
	if img.URL != "/media/"+key {
		t.Fatalf("unexpected url %q", img.URL)
	}
	if img.Width != 120 || img.Height != 80 {
		t.Fatalf("small images keep their size, got %dx%d", img.Width, img.Height)
	}

	again, err := svc.Upload(context.Background(), UploadImageInput{UserID: 42, ContentType: "image/png", Content: content})
	if err != nil {
		t.Fatalf("dedupe upload failed: %v", err)
	}
	if again.ID != img.ID {
		t.Fatalf("expected deduped record id %d, got %d", img.ID, again.ID)
	}
	if len(store.Objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(store.Objects))
	}
}

func TestImageServiceDownscalesLargeUploads(t *testing.T) {
	svc := NewImageService(testutil.NewImageRepoStub(), testutil.NewMemoryStore(), nil)

	img, err := svc.Upload(context.Background(), UploadImageInput{UserID: 7, Content: testutil.PNGBytes(2560, 1280)})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if img.Width != MaxImageDimension || img.Height != MaxImageDimension/2 {
		t.Fatalf("expected %dx%d, got %dx%d", MaxImageDimension, MaxImageDimension/2, img.Width, img.Height)
	}
}

func TestImageServiceRejectsBadInput(t *testing.T) {
	svc := NewImageService(testutil.NewImageRepoStub(), testutil.NewMemoryStore(), &config.Config{ImageMaxUploadSizeMB: 1})
	big := make([]byte, 1024*1024+1)
	copy(big, testutil.PNGBytes(4, 4))

	cases := []struct {
		name string
		in   UploadImageInput
	}{
		{"anonymous", UploadImageInput{Content: testutil.PNGBytes(4, 4)}},
		{"empty", UploadImageInput{UserID: 1}},
		{"too large", UploadImageInput{UserID: 1, Content: big}},
		{"not an image", UploadImageInput{UserID: 1, Content: []byte("%PDF-1.4 not a picture")}},
		{"content type mismatch", UploadImageInput{UserID: 1, ContentType: "image/gif", Content: testutil.PNGBytes(4, 4)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), tc.in)
			var appErr *models.AppError
			if !errors.As(err, &appErr) || appErr.Code != models.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestImageServiceStoreFailure(t *testing.T) {
	repo := testutil.NewImageRepoStub()
	svc := NewImageService(repo, failingStore{err: errors.New("bucket unavailable")}, nil)

	_, err := svc.Upload(context.Background(), UploadImageInput{UserID: 3, Content: testutil.PNGBytes(10, 10)})
	if err == nil || !strings.Contains(err.Error(), "bucket unavailable") {
		t.Fatalf("expected store error, got %v", err)
	}
	images, _ := repo.ListByUser(context.Background(), 3, 10, 0)
	if len(images) != 0 {
		t.Fatalf("no metadata should be saved when the store fails, got %d", len(images))
	}
}

func TestFitWithin(t *testing.T) {
	cases := []struct {
		w, h, wantW, wantH int
	}{
		{800, 600, 800, 600},
		{2560, 1280, 1280, 640},
		{1000, 4000, 320, 1280},
		{5000, 2, 1280, 1},
		{1280, 1280, 1280, 1280},
	}
	for _, tc := range cases {
		w, h := fitWithin(tc.w, tc.h, MaxImageDimension)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("fitWithin(%d, %d) = %dx%d, want %dx%d", tc.w, tc.h, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestImageServiceAcceptsJPGAlias(t *testing.T) {
	if canonicalImageType(mediaType("image/JPG; charset=binary")) != "image/jpeg" {
		t.Fatal("image/jpg should fold into image/jpeg")
	}
	if knownImageType("application/pdf") {
		t.Fatal("pdf must not be accepted")
	}
}
