// Package fingerprint derives content identifiers for uploaded documents.
// The value depends on the bytes only; titles, tags and other metadata never
// influence it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"docverify/internal/document/model"
)

// Length is the length of a fingerprint in hex characters.
const Length = sha256.Size * 2

var ErrMalformed = errors.New("malformed fingerprint")

// Generate returns the lowercase hex SHA-256 of content.
func Generate(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%w: content is empty", model.ErrInvalidInput)
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// FromReader streams r through the hash and returns the fingerprint and the
// number of bytes read. A limit <= 0 disables the size check.
func FromReader(r io.Reader, limit int64) (string, int64, error) {
	if r == nil {
		return "", 0, fmt.Errorf("%w: no content", model.ErrInvalidInput)
	}
	h := sha256.New()
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(h, src)
	if err != nil {
		return "", n, fmt.Errorf("%w: content unreadable: %v", model.ErrInvalidInput, err)
	}
	if n == 0 {
		return "", 0, fmt.Errorf("%w: content is empty", model.ErrInvalidInput)
	}
	if limit > 0 && n > limit {
		return "", n, fmt.Errorf("%w: content exceeds %d bytes", model.ErrInvalidInput, limit)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Normalize canonicalizes a user-supplied identifier: surrounding space and
// an optional 0x prefix are dropped and hex digits are lower-cased.
func Normalize(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s) != Length {
		return "", ErrMalformed
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", ErrMalformed
	}
	return s, nil
}
