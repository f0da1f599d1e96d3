package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"math/big"
)

// RandomStringChars is the alphabet used for salts and other generated identifiers.
const RandomStringChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	saltEntropyBits = 128
	urlTokenBytes   = 32
)

var ErrInvalidArgument = errors.New("invalid argument")

// RandomString returns length characters drawn uniformly from alphabet using crypto/rand.
func RandomString(length int, alphabet string) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("%w: negative length %d", ErrInvalidArgument, length)
	}
	symbols := []rune(alphabet)
	if len(symbols) == 0 {
		return "", fmt.Errorf("%w: empty alphabet", ErrInvalidArgument)
	}
	upper := big.NewInt(int64(len(symbols)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, upper)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = symbols[n.Int64()]
	}
	return string(out), nil
}

// SaltLength is ceil(128 / log2(|alphabet|)).
func SaltLength(alphabet string) int {
	size := len([]rune(alphabet))
	if size < 2 {
		return 0
	}
	return int(math.Ceil(saltEntropyBits / math.Log2(float64(size))))
}

func GenerateSalt() (string, error) {
	return RandomString(SaltLength(RandomStringChars), RandomStringChars)
}

// URLSafeToken returns 32 random bytes as unpadded base64url.
func URLSafeToken() (string, error) {
	b := make([]byte, urlTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
