// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"kortrade/internal/models"
)

// ImageRepoStub is an in-memory image repository for tests.
type ImageRepoStub struct {
	mu     sync.Mutex
	items  map[string]*models.Image
	nextID uint
}

// NewImageRepoStub creates an in-memory image repository stub for tests.
func NewImageRepoStub() *ImageRepoStub {
	return &ImageRepoStub{items: make(map[string]*models.Image), nextID: 1}
}

// Save stores metadata once per hash.
func (s *ImageRepoStub) Save(_ context.Context, img *models.Image) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[img.Hash]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *img
	cp.ID = s.nextID
	cp.CreatedAt = time.Now()
	s.nextID++
	s.items[img.Hash] = &cp
	out := cp
	return &out, nil
}

func (s *ImageRepoStub) GetByHash(_ context.Context, hash string) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.items[hash]
	if !ok {
		return nil, models.NewNotFoundError("Image", hash)
	}
	cp := *img
	return &cp, nil
}

func (s *ImageRepoStub) ListByUser(_ context.Context, userID uint, _, _ int) ([]models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Image
	for _, img := range s.items {
		if img.UserID == userID {
			out = append(out, *img)
		}
	}
	return out, nil
}

// MemoryStore is an object store kept in a map, keyed by object key.
type MemoryStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
	BaseURL string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Objects: make(map[string][]byte),
		Types:   make(map[string]string),
		BaseURL: "/media",
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key] = append([]byte(nil), data...)
	m.Types[key] = contentType
	return m.BaseURL + "/" + key, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key)
	delete(m.Types, key)
	return nil
}

// PNGBytes renders a w×h gradient PNG.
func PNGBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
