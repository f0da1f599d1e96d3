package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sandeepkv93/bmc-account-service/internal/observability"
)

const (
	MaxAvatarSize    = 5 * 1024 * 1024
	presignedURLTTL  = 15 * time.Minute
	avatarPathPrefix = "avatars"
	sniffLen         = 512
)

var (
	ErrFileTooBig           = errors.New("file size exceeds 5MB limit")
	ErrInvalidFileType      = errors.New("invalid file type, only JPEG and PNG images are allowed")
	ErrBucketCreationFailed = errors.New("failed to create storage bucket")
	ErrUploadFailed         = errors.New("failed to upload file")
	ErrDeleteFailed         = errors.New("failed to delete file")
	ErrURLGenerationFailed  = errors.New("failed to generate presigned URL")
	ErrUnauthorizedAccess   = errors.New("unauthorized access to resource")

	allowedContentTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
	}
)

// AvatarStorage stores avatar images under a per-account namespace derived from the account email.
type AvatarStorage interface {
	Upload(ctx context.Context, ownerEmail string, file io.Reader, size int64) (string, error)
	Delete(ctx context.Context, ownerEmail, objectKey string) error
	URL(ctx context.Context, objectKey string) (string, error)
	// Owns reports whether objectKey lives in ownerEmail's namespace.
	Owns(ownerEmail, objectKey string) bool
}

type MinIOAvatarStorage struct {
	client     *minio.Client
	bucketName string
	initOnce   sync.Once
	initErr    error
}

// NewMinIOAvatarStorage builds the client only; the bucket is created on first use.
func NewMinIOAvatarStorage(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOAvatarStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOAvatarStorage{client: client, bucketName: bucketName}, nil
}

func (s *MinIOAvatarStorage) lazyInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = fmt.Errorf("%w: check bucket existence: %v", ErrBucketCreationFailed, err)
			return
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
				s.initErr = fmt.Errorf("%w: create bucket: %v", ErrBucketCreationFailed, err)
			}
		}
	})
	return s.initErr
}

// Upload sniffs the first bytes for the real content type, so the client-sent header is never trusted.
func (s *MinIOAvatarStorage) Upload(ctx context.Context, ownerEmail string, file io.Reader, size int64) (string, error) {
	if size > MaxAvatarSize {
		observability.RecordAvatarStorageEvent(ctx, "upload", "too_big")
		return "", ErrFileTooBig
	}

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		observability.RecordAvatarStorageEvent(ctx, "upload", "error")
		return "", fmt.Errorf("%w: read file for content detection: %v", ErrUploadFailed, err)
	}
	buf = buf[:n]

	contentType := strings.ToLower(http.DetectContentType(buf))
	ext, allowed := allowedContentTypes[contentType]
	if !allowed {
		observability.RecordAvatarStorageEvent(ctx, "upload", "invalid_type")
		return "", ErrInvalidFileType
	}

	if err := s.lazyInit(ctx); err != nil {
		observability.RecordAvatarStorageEvent(ctx, "upload", "error")
		return "", err
	}

	objectKey := avatarNamespace(ownerEmail) + uuid.New().String() + ext
	_, err = s.client.PutObject(ctx, s.bucketName, objectKey, io.MultiReader(bytes.NewReader(buf), file), size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"Detected-Content-Type": contentType,
			"Uploaded-At":           time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		observability.RecordAvatarStorageEvent(ctx, "upload", "error")
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	observability.RecordAvatarStorageEvent(ctx, "upload", "success")
	return objectKey, nil
}

func (s *MinIOAvatarStorage) Delete(ctx context.Context, ownerEmail, objectKey string) error {
	if strings.TrimSpace(objectKey) == "" {
		return nil
	}
	if !s.Owns(ownerEmail, objectKey) {
		observability.RecordAvatarStorageEvent(ctx, "delete", "forbidden")
		return ErrUnauthorizedAccess
	}
	if err := s.lazyInit(ctx); err != nil {
		observability.RecordAvatarStorageEvent(ctx, "delete", "error")
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		observability.RecordAvatarStorageEvent(ctx, "delete", "error")
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	observability.RecordAvatarStorageEvent(ctx, "delete", "success")
	return nil
}

func (s *MinIOAvatarStorage) URL(ctx context.Context, objectKey string) (string, error) {
	if !isAvatarKey(objectKey) {
		return "", fmt.Errorf("%w: not an avatar object key", ErrURLGenerationFailed)
	}
	if err := s.lazyInit(ctx); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, presignedURLTTL, url.Values{})
	if err != nil {
		observability.RecordAvatarStorageEvent(ctx, "presign", "error")
		return "", fmt.Errorf("%w: %v", ErrURLGenerationFailed, err)
	}
	observability.RecordAvatarStorageEvent(ctx, "presign", "success")
	return u.String(), nil
}

func (s *MinIOAvatarStorage) Owns(ownerEmail, objectKey string) bool {
	return ownsAvatarKey(ownerEmail, objectKey)
}

func isAvatarKey(objectKey string) bool {
	return strings.HasPrefix(objectKey, avatarPathPrefix+"/") && !strings.Contains(objectKey, "..") && !strings.Contains(objectKey, "://")
}

func ownsAvatarKey(ownerEmail, objectKey string) bool {
	if strings.Contains(objectKey, "..") {
		return false
	}
	return strings.HasPrefix(objectKey, avatarNamespace(ownerEmail))
}

// avatarNamespace hashes the email so object keys, which are public, do not reveal it.
func avatarNamespace(ownerEmail string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(ownerEmail))))
	return avatarPathPrefix + "/" + hex.EncodeToString(sum[:12]) + "/"
}
