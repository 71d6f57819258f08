package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var errMissingBucket = errors.New("blobstore: gcs bucket required")

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	Clock           func() time.Time
}

// GCSStore keeps objects in a Cloud Storage bucket and issues V4 signed URLs.
type GCSStore struct {
	client *storage.Client
	bucket string
	clock  func() time.Time
}

// NewGCSStore connects with the service account key when provided, otherwise with default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	options := make([]option.ClientOption, 0, 1)
	if keyPath := strings.TrimSpace(cfg.CredentialsFile); keyPath != "" {
		if _, err := os.Stat(keyPath); err != nil {
			return nil, fmt.Errorf("blobstore: service account key not accessible at %s: %w", keyPath, err)
		}
		options = append(options, option.WithCredentialsFile(keyPath))
	}
	client, err := storage.NewClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create gcs client: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GCSStore{client: client, bucket: bucket, clock: clock}, nil
}

func (s *GCSStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(cleaned).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := writer.Write(data); err != nil {
		writer.Close() //nolint:errcheck
		return fmt.Errorf("blobstore: write gs://%s/%s: %w", s.bucket, cleaned, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("blobstore: close gs://%s/%s: %w", s.bucket, cleaned, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(cleaned).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, s.bucket, cleaned)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: open gs://%s/%s: %w", s.bucket, cleaned, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read gs://%s/%s: %w", s.bucket, cleaned, err)
	}
	return data, nil
}

func (s *GCSStore) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(cleaned, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: s.clock().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: sign gs://%s/%s: %w", s.bucket, cleaned, err)
	}
	return signed, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
