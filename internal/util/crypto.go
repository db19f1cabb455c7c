package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

var randomSource io.Reader = rand.Reader

// RandomIndex returns a uniformly distributed integer in [0, n) from crypto/rand.
func RandomIndex(n int) (int, error) {
	v, err := rand.Int(randomSource, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random index: %w", err)
	}
	return int(v.Int64()), nil
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// MaskCode hides the tail of a pairing code for logs.
func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + strings.Repeat("*", len(code)-4)
}

// NormalizeCode canonicalizes user-entered pairing codes.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "")
}
