package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"kortrade/internal/config"
	"kortrade/internal/middleware"
	"kortrade/internal/models"
	"kortrade/internal/repository"
	"kortrade/internal/storage"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultImageMaxUploadSizeMB = 10
	// MaxImageDimension bounds the long edge of stored images. Chart
	// screenshots stay legible at this width.
	MaxImageDimension = 1280
	WebPQuality       = 80
	// maxSourcePixels rejects decompression bombs before decoding.
	maxSourcePixels = 40_000_000
)

// imageFormats maps image.Decode format names to their MIME type.
var imageFormats = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

type UploadImageInput struct {
	UserID      uint
	Filename    string
	ContentType string
	Content     []byte
}

// ImageService stores post attachments such as profit screenshots. Every
// upload is re-encoded to WebP and addressed by a per-user content hash, so
// the same file uploaded twice returns the first record.
type ImageService struct {
	repo     repository.ImageRepository
	store    storage.Store
	maxBytes int64
}

func NewImageService(repo repository.ImageRepository, store storage.Store, cfg *config.Config) *ImageService {
	mb := DefaultImageMaxUploadSizeMB
	if cfg != nil && cfg.ImageMaxUploadSizeMB > 0 {
		mb = cfg.ImageMaxUploadSizeMB
	}
	return &ImageService{repo: repo, store: store, maxBytes: int64(mb) << 20}
}

func (s *ImageService) Upload(ctx context.Context, in UploadImageInput) (*models.Image, error) {
	src, err := s.decode(in)
	if err != nil {
		return nil, err
	}

	img := scaleDown(src, MaxImageDimension)
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: WebPQuality}); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("encode webp: %w", err))
	}
	encoded := buf.Bytes()

	hash := contentHash(in.UserID, encoded)
	existing, err := s.repo.GetByHash(ctx, hash)
	switch {
	case err == nil:
		return existing, nil
	case !IsNotFound(err):
		return nil, err
	}

	key := imageKey(hash)
	url, err := s.store.Put(ctx, key, encoded, "image/webp")
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("store image: %w", err))
	}

	size := img.Bounds().Size()
	saved, err := s.repo.Save(ctx, &models.Image{
		UserID: in.UserID,
		Hash:   hash,
		URL:    url,
		Width:  size.X,
		Height: size.Y,
		Bytes:  int64(len(encoded)),
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			middleware.Component("images").WarnContext(ctx, "orphaned image object",
				slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, err
	}
	return saved, nil
}

// decode validates the upload and returns the decoded picture.
func (s *ImageService) decode(in UploadImageInput) (image.Image, error) {
	switch {
	case in.UserID == 0:
		return nil, models.NewValidationError("로그인이 필요합니다")
	case len(in.Content) == 0:
		return nil, models.NewValidationError("업로드할 이미지가 없습니다")
	case int64(len(in.Content)) > s.maxBytes:
		return nil, models.NewValidationError(fmt.Sprintf("이미지는 최대 %dMB까지 업로드할 수 있습니다", s.maxBytes>>20))
	}

	unsupported := models.NewValidationError("지원하지 않는 이미지 형식입니다")
	sniffed := mediaType(http.DetectContentType(in.Content))
	if !knownImageType(sniffed) {
		return nil, unsupported
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("이미지 파일을 읽을 수 없습니다")
	}
	actual, ok := imageFormats[format]
	if !ok {
		return nil, unsupported
	}
	if declared := mediaType(in.ContentType); strings.HasPrefix(declared, "image/") && canonicalImageType(declared) != actual {
		return nil, models.NewValidationError("이미지 형식이 파일 내용과 일치하지 않습니다")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, models.NewValidationError("이미지 해상도가 너무 큽니다")
	}

	src, _, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewValidationError("이미지 파일을 읽을 수 없습니다")
	}
	return src, nil
}

func (s *ImageService) ListMine(ctx context.Context, userID uint, limit, offset int) ([]models.Image, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// imageKey shards objects by the first hash byte.
func imageKey(hash string) string {
	return "images/" + hash[:2] + "/" + hash + ".webp"
}

// fitWithin returns w×h scaled so the long edge is at most limit.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

func scaleDown(src image.Image, limit int) image.Image {
	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), limit)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(contentType)
}

// canonicalImageType folds the image/jpg alias browsers still send.
func canonicalImageType(mt string) string {
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

func knownImageType(mt string) bool {
	mt = canonicalImageType(mt)
	for _, v := range imageFormats {
		if v == mt {
			return true
		}
	}
	return false
}

// contentHash scopes dedupe to one uploader.
func contentHash(userID uint, content []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%d:", userID)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
