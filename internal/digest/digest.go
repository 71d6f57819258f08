// Package digest computes the content hashes recorded on revisions and printed on exports.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Length is the number of hex characters in a SHA-256 digest.
const Length = sha256.Size * 2

// ErrUnreadable indicates the content could not be read to completion.
var ErrUnreadable = errors.New("digest: content unreadable")

// Hash returns the lowercase hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader hashes everything readable from reader.
func HashReader(reader io.Reader) (string, error) {
	if reader == nil {
		return "", fmt.Errorf("%w: nil reader", ErrUnreadable)
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Valid reports whether value is a well-formed lowercase hex digest.
func Valid(value string) bool {
	if len(value) != Length {
		return false
	}
	for _, r := range value {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

// Display renders a digest for humans.
func Display(value string) string {
	return strings.ToUpper(value)
}
