package documents

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "documents.service.new"

	defaultAllocationAttempts = 5
	allocationInitialInterval = 20 * time.Millisecond
	allocationMaxInterval     = 250 * time.Millisecond
)

var (
	noOpLogger = zap.NewNop()

	errAllocationCollision = errors.New("allocation collided with a concurrent writer")
)

// ServiceConfig describes the collaborators of the document service.
type ServiceConfig struct {
	Database           *gorm.DB
	Blobs              blobstore.Store
	Clock              func() time.Time
	IDProvider         IDProvider
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	Notifier           Notifier
	Directory          UserDirectory
	AllocationAttempts uint
}

// Service owns documents, their revision ledger and the signature workflow.
type Service struct {
	db                 *gorm.DB
	blobs              blobstore.Store
	clock              func() time.Time
	idProvider         IDProvider
	logger             *zap.Logger
	metrics            *metrics.Metrics
	notifier           Notifier
	directory          UserDirectory
	allocationAttempts uint
}

// NewService validates the configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", KindInternal, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", KindInternal, errMissingIDProvider)
	}
	if cfg.Blobs == nil {
		return nil, newServiceError(opServiceNew, "missing_blob_store", KindInternal, errMissingBlobStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	attempts := cfg.AllocationAttempts
	if attempts == 0 {
		attempts = defaultAllocationAttempts
	}

	return &Service{
		db:                 cfg.Database,
		blobs:              cfg.Blobs,
		clock:              clock,
		idProvider:         cfg.IDProvider,
		logger:             logger,
		metrics:            cfg.Metrics,
		notifier:           cfg.Notifier,
		directory:          cfg.Directory,
		allocationAttempts: attempts,
	}, nil
}

// retryOnCollision reruns attempt while it reports errAllocationCollision.
func (s *Service) retryOnCollision(ctx context.Context, scope string, attempt func() error) error {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = allocationInitialInterval
	exponential.MaxInterval = allocationMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt()
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, errAllocationCollision) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(exponential),
		backoff.WithMaxTries(s.allocationAttempts),
		backoff.WithNotify(func(error, time.Duration) {
			s.metrics.AllocationRetry(scope)
		}),
	)
	return err
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("documents service error", attrs...)
}
