package transmission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew  = "transmission.service.new"
	opNextNumber  = "transmission.next_number"
	opCreate      = "transmission.create"
	opGet         = "transmission.get"
	opList        = "transmission.list"
	allocationTag = "bordereau_number"

	defaultAllocationAttempts = 5
	allocationInitialInterval = 20 * time.Millisecond
	allocationMaxInterval     = 250 * time.Millisecond
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingBundleSource = errors.New("bundle source is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errNumberCollision     = errors.New("bordereau number taken by a concurrent writer")
)

// BundleSource loads the current revision of a document with its signatures.
type BundleSource interface {
	LatestBundle(ctx context.Context, documentID string) (documents.Bundle, error)
}

// ServiceConfig describes the collaborators of the transmission service.
type ServiceConfig struct {
	Database           *gorm.DB
	Bundles            BundleSource
	Clock              func() time.Time
	IDProvider         documents.IDProvider
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	AllocationAttempts uint
}

// Service creates and reads bordereaux.
type Service struct {
	db                 *gorm.DB
	bundles            BundleSource
	clock              func() time.Time
	idProvider         documents.IDProvider
	logger             *zap.Logger
	metrics            *metrics.Metrics
	allocationAttempts uint
}

// CreateInput selects the documents to transmit and names the recipient.
type CreateInput struct {
	DocumentIDs    []string
	RecipientName  string
	RecipientEmail string
	Note           string
}

// NewService validates the configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, documents.NewError(opServiceNew, "missing_database", documents.KindInternal, errMissingDatabase)
	}
	if cfg.Bundles == nil {
		return nil, documents.NewError(opServiceNew, "missing_bundle_source", documents.KindInternal, errMissingBundleSource)
	}
	if cfg.IDProvider == nil {
		return nil, documents.NewError(opServiceNew, "missing_id_provider", documents.KindInternal, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.AllocationAttempts
	if attempts == 0 {
		attempts = defaultAllocationAttempts
	}
	return &Service{
		db:                 cfg.Database,
		bundles:            cfg.Bundles,
		clock:              clock,
		idProvider:         cfg.IDProvider,
		logger:             logger,
		metrics:            cfg.Metrics,
		allocationAttempts: attempts,
	}, nil
}

// NextBordereauNumber previews the number the next bordereau would receive. It is advisory:
// Create allocates again under the unique index.
func (s *Service) NextBordereauNumber(ctx context.Context) (string, error) {
	year := s.now().Year()
	sequence, err := s.allocateSequence(s.db.WithContext(ctx), year)
	if err != nil {
		s.logError(opNextNumber, "count_failed", err)
		return "", documents.NewError(opNextNumber, "count_failed", documents.KindInternal, err)
	}
	return FormatNumber(year, sequence), nil
}

// Create snapshots the current revision of every selected document and stores the bordereau.
func (s *Service) Create(ctx context.Context, sender documents.Actor, input CreateInput) (Bordereau, error) {
	if strings.TrimSpace(sender.UserID) == "" {
		return Bordereau{}, documents.NewError(opCreate, "missing_sender", documents.KindMissingRequiredField, documents.ErrMissingRequiredField)
	}
	recipientName := strings.TrimSpace(input.RecipientName)
	if recipientName == "" {
		return Bordereau{}, documents.NewError(opCreate, "missing_recipient", documents.KindMissingRequiredField,
			fmt.Errorf("%w: recipient name", documents.ErrMissingRequiredField))
	}
	if len(input.DocumentIDs) == 0 {
		return Bordereau{}, documents.NewError(opCreate, "no_documents", documents.KindInvalidInput,
			fmt.Errorf("%w: at least one document is required", documents.ErrInvalidInput))
	}

	seen := make(map[string]struct{}, len(input.DocumentIDs))
	lines := make([]BordereauLine, 0, len(input.DocumentIDs))
	for _, documentID := range input.DocumentIDs {
		documentID = strings.TrimSpace(documentID)
		if _, duplicate := seen[documentID]; duplicate {
			return Bordereau{}, documents.NewError(opCreate, "duplicate_document", documents.KindInvalidInput,
				fmt.Errorf("%w: document %s selected twice", documents.ErrInvalidInput, documentID))
		}
		seen[documentID] = struct{}{}
		bundle, err := s.bundles.LatestBundle(ctx, documentID)
		if err != nil {
			return Bordereau{}, err
		}
		line := SnapshotLine(bundle)
		line.Position = len(lines) + 1
		lines = append(lines, line)
	}

	bordereauID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Bordereau{}, documents.NewError(opCreate, "id_generation_failed", documents.KindInternal, err)
	}
	for index := range lines {
		lineID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return Bordereau{}, documents.NewError(opCreate, "id_generation_failed", documents.KindInternal, err)
		}
		lines[index].LineID = lineID
		lines[index].BordereauID = bordereauID
	}

	emittedAt := s.now()
	header := Bordereau{
		BordereauID:      bordereauID,
		Year:             emittedAt.Year(),
		EmittedAtSeconds: emittedAt.Unix(),
		SenderUserID:     strings.TrimSpace(sender.UserID),
		SenderName:       strings.TrimSpace(sender.DisplayName),
		SenderEmail:      strings.TrimSpace(sender.Email),
		RecipientName:    recipientName,
		RecipientEmail:   strings.TrimSpace(input.RecipientEmail),
		Note:             strings.TrimSpace(input.Note),
	}

	err = s.retryOnCollision(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sequence, err := s.allocateSequence(tx, header.Year)
			if err != nil {
				return err
			}
			header.Sequence = sequence
			header.Number = FormatNumber(header.Year, sequence)
			if err := tx.Omit(clause.Associations).Create(&header).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: %s", errNumberCollision, header.Number)
				}
				return err
			}
			return tx.Create(&lines).Error
		})
	})
	if err != nil {
		s.metrics.BordereauCreated(metrics.OutcomeFailure)
		s.logError(opCreate, "persist_failed", err, zap.Int("documents", len(lines)))
		return Bordereau{}, documents.NewError(opCreate, "persist_failed", documents.KindInternal, err)
	}
	s.metrics.BordereauCreated(metrics.OutcomeSuccess)

	header.Lines = lines
	return header, nil
}

// Get loads a bordereau with its lines in position order.
func (s *Service) Get(ctx context.Context, bordereauID string) (Bordereau, error) {
	var bordereau Bordereau
	err := s.db.WithContext(ctx).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("bordereau_id = ?", strings.TrimSpace(bordereauID)).
		Take(&bordereau).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Bordereau{}, documents.NewError(opGet, "not_found", documents.KindNotFound, err)
		}
		s.logError(opGet, "query_failed", err)
		return Bordereau{}, documents.NewError(opGet, "query_failed", documents.KindInternal, err)
	}
	return bordereau, nil
}

// List returns bordereau headers, newest first.
func (s *Service) List(ctx context.Context) ([]Bordereau, error) {
	var bordereaux []Bordereau
	err := s.db.WithContext(ctx).
		Order("year DESC").
		Order("sequence DESC").
		Find(&bordereaux).Error
	if err != nil {
		s.logError(opList, "query_failed", err)
		return nil, documents.NewError(opList, "query_failed", documents.KindInternal, err)
	}
	return bordereaux, nil
}

func (s *Service) allocateSequence(db *gorm.DB, year int) (int, error) {
	var total int64
	if err := db.Model(&Bordereau{}).Count(&total).Error; err != nil {
		return 0, err
	}
	var highest int
	if err := db.Model(&Bordereau{}).
		Where("year = ?", year).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&highest).Error; err != nil {
		return 0, err
	}
	return nextSequence(total, highest), nil
}

func (s *Service) retryOnCollision(ctx context.Context, attempt func() error) error {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = allocationInitialInterval
	exponential.MaxInterval = allocationMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt()
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, errNumberCollision):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(exponential),
		backoff.WithMaxTries(s.allocationAttempts),
		backoff.WithNotify(func(err error, _ time.Duration) {
			s.metrics.AllocationRetry(allocationTag)
			s.logger.Info("bordereau number collision, retrying", zap.Error(err))
		}),
	)
	return err
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
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
	s.logger.Error("transmission service error", attrs...)
}
