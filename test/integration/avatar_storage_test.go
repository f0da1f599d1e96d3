package integration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/sandeepkv93/bmc-account-service/internal/service"
)

var avatarKeyPattern = regexp.MustCompile(`^avatars/[0-9a-f]{24}/[0-9a-f-]{36}\.(jpg|png)$`)

func pngFixtureBytes() []byte {
	return append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 64)...)
}

func jpegFixtureBytes() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0}, 64)...)
}

func TestMinIOAvatarStorageUploadPresignDelete(t *testing.T) {
	env := newMinIOIntegrationEnv(t)
	ctx := context.Background()
	content := pngFixtureBytes()

	key, err := env.storage.Upload(ctx, "Alice@X.com", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !avatarKeyPattern.MatchString(key) || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected object key %q", key)
	}
	if !env.storage.Owns("alice@x.com", key) {
		t.Fatalf("expected key to belong to the normalized email namespace: %s", key)
	}
	if env.storage.Owns("bob@x.com", key) {
		t.Fatal("expected key not to belong to another account")
	}

	obj := env.mustStatObject(t, key)
	if obj.ContentType != "image/png" || obj.Size != int64(len(content)) {
		t.Fatalf("unexpected object info: type=%q size=%d", obj.ContentType, obj.Size)
	}

	u, err := env.storage.URL(ctx, key)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("fetch presigned url: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, content) {
		t.Fatalf("presigned fetch returned %d with %d bytes", resp.StatusCode, len(body))
	}

	if err := env.storage.Delete(ctx, "bob@x.com", key); !errors.Is(err, service.ErrUnauthorizedAccess) {
		t.Fatalf("expected foreign delete to be refused, got %v", err)
	}
	if err := env.storage.Delete(ctx, "alice@x.com", key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if env.objectExists(t, key) {
		t.Fatalf("expected %s removed", key)
	}
}

func TestMinIOAvatarStorageRejectsNonImages(t *testing.T) {
	env := newMinIOIntegrationEnv(t)
	ctx := context.Background()

	gif := []byte("GIF89a" + strings.Repeat("\x00", 32))
	if _, err := env.storage.Upload(ctx, "alice@x.com", bytes.NewReader(gif), int64(len(gif))); !errors.Is(err, service.ErrInvalidFileType) {
		t.Fatalf("expected gif to be rejected, got %v", err)
	}
	if _, err := env.storage.Upload(ctx, "alice@x.com", bytes.NewReader(nil), service.MaxAvatarSize+1); !errors.Is(err, service.ErrFileTooBig) {
		t.Fatalf("expected oversize upload to be rejected, got %v", err)
	}

	jpeg := jpegFixtureBytes()
	key, err := env.storage.Upload(ctx, "alice@x.com", bytes.NewReader(jpeg), int64(len(jpeg)))
	if err != nil || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("expected jpeg accepted, key=%q err=%v", key, err)
	}
	if _, err := env.storage.URL(ctx, "../etc/passwd"); !errors.Is(err, service.ErrURLGenerationFailed) {
		t.Fatalf("expected non-avatar key refused, got %v", err)
	}
}
