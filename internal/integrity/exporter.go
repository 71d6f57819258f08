package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/digest"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"go.uber.org/zap"
)

const opExport = "integrity.export"

var (
	errMissingBundleSource = errors.New("bundle source is required")
	errMissingStore        = errors.New("blob store is required")
)

// BundleSource loads the ledger and workflow state of a revision.
type BundleSource interface {
	RevisionBundle(ctx context.Context, revisionID string) (documents.Bundle, error)
}

// ExporterConfig wires an Exporter.
type ExporterConfig struct {
	Bundles     BundleSource
	Blobs       blobstore.Store
	FetchPolicy blobstore.FetchPolicy
	Clock       func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Exporter assembles download artifacts for a revision. Nothing is persisted.
type Exporter struct {
	bundles BundleSource
	blobs   blobstore.Store
	policy  blobstore.FetchPolicy
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Export is the result of a successful export.
type Export struct {
	Record    Record
	Artifacts []Artifact
}

// NewExporter validates cfg.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	if cfg.Bundles == nil {
		return nil, errMissingBundleSource
	}
	if cfg.Blobs == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		bundles: cfg.Bundles,
		blobs:   cfg.Blobs,
		policy:  cfg.FetchPolicy,
		clock:   clock,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Export loads the revision, fetches its file, checks the bytes against the recorded hash and
// prepares the artifacts.
func (e *Exporter) Export(ctx context.Context, revisionID string) (Export, error) {
	started := e.clock()
	result, err := e.export(ctx, revisionID)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	e.metrics.ObserveExport(outcome, e.clock().Sub(started))
	if err == nil {
		for _, artifact := range result.Artifacts {
			e.metrics.ExportArtifact(artifact.Kind)
		}
	}
	return result, err
}

func (e *Exporter) export(ctx context.Context, revisionID string) (Export, error) {
	bundle, err := e.bundles.RevisionBundle(ctx, revisionID)
	if err != nil {
		return Export{}, err
	}
	record := NewRecord(bundle, e.clock())

	var content []byte
	if bundle.Revision.HasFile() {
		content, err = blobstore.Fetch(ctx, e.blobs, bundle.Revision.FilePath, e.policy, e.metrics.BlobFetch)
		if err != nil {
			e.logger.Error("revision file fetch failed",
				zap.String("operation", opExport),
				zap.String("revision_id", revisionID),
				zap.String("file_path", bundle.Revision.FilePath),
				zap.Error(err))
			return Export{}, documents.NewError(opExport, "fetch_failed", documents.KindStorageFailure, err)
		}
		if actual := digest.Hash(content); actual != bundle.Revision.FileHash {
			e.logger.Error("revision file hash mismatch",
				zap.String("operation", opExport),
				zap.String("revision_id", revisionID),
				zap.String("expected", bundle.Revision.FileHash),
				zap.String("actual", actual))
			return Export{}, documents.NewError(opExport, "hash_mismatch", documents.KindHashComputationFailure,
				fmt.Errorf("stored file does not match recorded hash %s", bundle.Revision.FileHash))
		}
	}

	artifacts, err := PrepareDownload(content, bundle.Revision.FileName, record)
	if err != nil {
		e.logger.Error("export rendering failed",
			zap.String("operation", opExport),
			zap.String("revision_id", revisionID),
			zap.Error(err))
		return Export{}, documents.NewError(opExport, "render_failed", documents.KindInternal, err)
	}
	for index := range artifacts {
		if artifacts[index].Kind == ArtifactOriginal && bundle.Revision.ContentType != "" {
			artifacts[index].ContentType = bundle.Revision.ContentType
		}
	}
	return Export{Record: record, Artifacts: artifacts}, nil
}
