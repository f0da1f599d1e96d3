package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultPBKDF2Iterations = 320000
	pbkdf2KeyLen            = sha256.Size
	recordSeparator         = "$"
)

var ErrMalformedRecord = errors.New("malformed password record")

// PasswordHasher derives salt$base64(PBKDF2-HMAC-SHA256) records.
type PasswordHasher struct {
	Iterations int
}

func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{Iterations: DefaultPBKDF2Iterations}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return salt + recordSeparator + h.derive(password, salt), nil
}

// Verify splits stored on the first separator and compares in constant time.
func (h *PasswordHasher) Verify(stored, candidate string) (bool, error) {
	salt, expected, ok := strings.Cut(stored, recordSeparator)
	if !ok || salt == "" || expected == "" {
		return false, ErrMalformedRecord
	}
	actual := h.derive(candidate, salt)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1, nil
}

func (h *PasswordHasher) derive(password, salt string) string {
	iterations := h.Iterations
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, pbkdf2KeyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}

var defaultHasher = NewPasswordHasher()

func HashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

func VerifyPassword(stored, candidate string) (bool, error) {
	return defaultHasher.Verify(stored, candidate)
}
