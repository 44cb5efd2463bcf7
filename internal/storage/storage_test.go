package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	putFn    func(*s3.PutObjectInput) error
	deleteFn func(*s3.DeleteObjectInput) error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn != nil {
		if err := f.putFn(in); err != nil {
			return nil, err
		}
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteFn != nil {
		if err := f.deleteFn(in); err != nil {
			return nil, err
		}
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestLocalStore_PutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "images/ab/abc.webp", []byte("data"), "image/webp")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/images/ab/abc.webp", url)

	b, err := os.ReadFile(filepath.Join(dir, "images", "ab", "abc.webp"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))

	require.NoError(t, store.Delete(context.Background(), "images/ab/abc.webp"))
	_, err = os.Stat(filepath.Join(dir, "images", "ab", "abc.webp"))
	assert.True(t, os.IsNotExist(err))

	// deleting a missing object is not an error
	assert.NoError(t, store.Delete(context.Background(), "images/ab/abc.webp"))
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = store.Put(context.Background(), "", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestS3Store_Put(t *testing.T) {
	var got *s3.PutObjectInput
	var body []byte
	fake := &fakeS3{putFn: func(in *s3.PutObjectInput) error {
		got = in
		body, _ = io.ReadAll(in.Body)
		return nil
	}}
	store := newS3Store(fake, S3Config{Bucket: "media", Endpoint: "http://minio:9000/"})

	url, err := store.Put(context.Background(), "images/x.webp", []byte("payload"), "image/webp")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/media/images/x.webp", url)
	assert.Equal(t, "media", *got.Bucket)
	assert.Equal(t, "images/x.webp", *got.Key)
	assert.Equal(t, "image/webp", *got.ContentType)
	assert.Equal(t, "payload", string(body))
}

func TestS3Store_Errors(t *testing.T) {
	boom := errors.New("boom")
	store := newS3Store(&fakeS3{
		putFn:    func(*s3.PutObjectInput) error { return boom },
		deleteFn: func(*s3.DeleteObjectInput) error { return boom },
	}, S3Config{Bucket: "media", Region: "ap-northeast-2"})

	_, err := store.Put(context.Background(), "k", []byte("x"), "image/png")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Delete(context.Background(), "k"), boom)
}

func TestPublicBaseURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com", publicBaseURL(S3Config{PublicURL: "https://cdn.example.com/", Bucket: "b"}))
	assert.Equal(t, "https://b.s3.ap-northeast-2.amazonaws.com", publicBaseURL(S3Config{Bucket: "b", Region: "ap-northeast-2"}))
	assert.Equal(t, "https://b.s3.us-east-1.amazonaws.com", publicBaseURL(S3Config{Bucket: "b"}))
}
