// Package blobstore stores revision files behind an opaque key to bytes interface.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates that no object exists at the requested path.
	ErrNotFound = errors.New("blobstore: object not found")
	// ErrInvalidPath indicates a path that is empty or escapes the store root.
	ErrInvalidPath = errors.New("blobstore: invalid path")
	// ErrInvalidSignature indicates a signed URL token that does not match its path or has expired.
	ErrInvalidSignature = errors.New("blobstore: invalid signature")
)

// Store is implemented by every blob backend.
type Store interface {
	// Put writes data at path, replacing any existing object.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// CleanPath validates a relative slash-separated object path.
func CleanPath(objectPath string) (string, error) {
	trimmed := strings.TrimSpace(objectPath)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.Contains(trimmed, "\\") || strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return cleaned, nil
}
