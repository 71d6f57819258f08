package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	filePermissions      = 0o640
	directoryPermissions = 0o750
	signedURLIssuer      = "kore-blobstore"
	// SignedPathPrefix is the HTTP route serving locally signed URLs.
	SignedPathPrefix = "/blobs/"
	// SignedTokenParam carries the signed URL token.
	SignedTokenParam = "token"
)

var (
	errMissingRoot   = errors.New("blobstore: root directory required")
	errMissingSecret = errors.New("blobstore: url signing secret required")
)

// FileStoreConfig configures a filesystem-backed store.
type FileStoreConfig struct {
	Root          string
	PublicBaseURL string
	SigningSecret []byte
	Clock         func() time.Time
}

// FileStore keeps objects under a root directory and signs download URLs served by the API.
type FileStore struct {
	root          string
	publicBaseURL string
	signingSecret []byte
	clock         func() time.Time
}

type signedURLClaims struct {
	jwt.RegisteredClaims
}

// NewFileStore creates the root directory when missing.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, errMissingRoot
	}
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSecret
	}
	if err := os.MkdirAll(root, directoryPermissions); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &FileStore{
		root:          root,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		clock:         clock,
	}, nil
}

func (s *FileStore) Put(ctx context.Context, objectPath string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), directoryPermissions); err != nil {
		return fmt.Errorf("blobstore: create directory: %w", err)
	}
	temp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("blobstore: create temp file: %w", err)
	}
	tempName := temp.Name()
	defer os.Remove(tempName) //nolint:errcheck
	if _, err := temp.Write(data); err != nil {
		temp.Close() //nolint:errcheck
		return fmt.Errorf("blobstore: write: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("blobstore: close: %w", err)
	}
	if err := os.Chmod(tempName, filePermissions); err != nil {
		return fmt.Errorf("blobstore: chmod: %w", err)
	}
	if err := os.Rename(tempName, target); err != nil {
		return fmt.Errorf("blobstore: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read: %w", err)
	}
	return data, nil
}

// SignedURL returns a time-limited URL under SignedPathPrefix.
func (s *FileStore) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	now := s.clock().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, signedURLClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signedURLIssuer,
			Subject:   cleaned,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.signingSecret)
	if err != nil {
		return "", fmt.Errorf("blobstore: sign url: %w", err)
	}
	segments := strings.Split(cleaned, "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	query := url.Values{}
	query.Set(SignedTokenParam, signed)
	return s.publicBaseURL + SignedPathPrefix + strings.Join(segments, "/") + "?" + query.Encode(), nil
}

// VerifySignedPath checks that token was issued for objectPath and has not expired.
func (s *FileStore) VerifySignedPath(objectPath, token string) error {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	claims := &signedURLClaims{}
	_, err = jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) {
			return s.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signedURLIssuer),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject != cleaned {
		return fmt.Errorf("%w: path mismatch", ErrInvalidSignature)
	}
	return nil
}

func (s *FileStore) resolve(objectPath string) (string, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}
