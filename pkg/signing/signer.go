package signing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MD5Signer hashes the signed input with MD5 and ignores the key.
type MD5Signer struct{}

// Sign returns the lowercase hex MD5 digest of input.
func (MD5Signer) Sign(input, _ []byte) (string, error) {
	sum := md5.Sum(input)
	return hex.EncodeToString(sum[:]), nil
}

// HMACSHA256Signer signs the input with HMAC-SHA256 under the supplied key.
type HMACSHA256Signer struct{}

// Sign returns the lowercase hex HMAC-SHA256 of input keyed with key.
func (HMACSHA256Signer) Sign(input, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("hmac signing key is empty")
	}
	h := hmac.New(sha256.New, key)
	if _, err := h.Write(input); err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SignerFor picks the built-in signer matching algorithm.
func SignerFor(algorithm string) Signer {
	if isHMAC(algorithm) {
		return HMACSHA256Signer{}
	}
	return MD5Signer{}
}

// MillisTimestamp formats the current Unix time in milliseconds, zero padded to 13 digits.
func MillisTimestamp() (string, error) {
	return FormatMillis(time.Now()), nil
}

// FormatMillis formats t the same way MillisTimestamp does.
func FormatMillis(t time.Time) string {
	return fmt.Sprintf("%013d", t.UnixMilli())
}

func isHMAC(algorithm string) bool {
	return strings.EqualFold(algorithm, AlgorithmHmacSHA256)
}
