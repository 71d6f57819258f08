package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/codification"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/digest"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/similarity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateDocument = "documents.create_document"
	opAppendRevision = "documents.append_revision"
	opGetDocument    = "documents.get_document"
	opListDocuments  = "documents.list_documents"
	opListRevisions  = "documents.list_revisions"
	opGetRevision    = "documents.get_revision"
	opLatestBundle   = "documents.latest_bundle"
	opSuggestNumber  = "documents.suggest_number"
	opSimilarTitles  = "documents.similar_titles"

	allocationScopeSequence = "document_sequence"
	allocationScopeRevision = "revision_index"
	maxRevisionLabelLength  = 32
)

// CreateDocumentInput carries the codification parts and title of a new document.
// Sequence is allocated when zero; an explicit sequence is never reallocated.
type CreateDocumentInput struct {
	ProjectNumber  string
	EmitterCode    string
	UnitCode       string
	DisciplineCode string
	SuffixCode     string
	Sequence       int
	Title          string
}

func (in CreateDocumentInput) parts() codification.Parts {
	return codification.Parts{
		Project:    in.ProjectNumber,
		Emitter:    in.EmitterCode,
		Unit:       in.UnitCode,
		Discipline: in.DisciplineCode,
		Sequence:   in.Sequence,
		Suffix:     in.SuffixCode,
	}.Normalize()
}

// CreateDocumentResult is the stored document plus advisory similarity matches.
type CreateDocumentResult struct {
	Document Document
	Similar  []similarity.Match
}

// FileUpload is the raw content attached to a revision.
type FileUpload struct {
	Name        string
	ContentType string
	Content     []byte
}

// AppendRevisionInput describes a new revision of an existing document.
type AppendRevisionInput struct {
	DocumentID   string
	Label        string
	Status       Status
	Redacteur    string
	Verificateur string
	Approbateur  string
	Changes      string
	RevisionDate time.Time
	File         *FileUpload
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	ProjectNumber  string
	DisciplineCode string
}

// CreateDocument allocates the next sequence for (project, discipline), checks the composed
// number is still free and stores the document. Sequence races are retried; number
// collisions fail with DuplicateDocumentNumber.
func (s *Service) CreateDocument(ctx context.Context, actor Actor, input CreateDocumentInput) (CreateDocumentResult, error) {
	if err := actor.validate(); err != nil {
		return CreateDocumentResult{}, newServiceError(opCreateDocument, "invalid_actor", kindForValidation(err), err)
	}
	parts := input.parts()
	if err := parts.Validate(); err != nil {
		return CreateDocumentResult{}, newServiceError(opCreateDocument, "invalid_codification", KindInvalidInput, err)
	}
	if parts.Sequence < 0 {
		return CreateDocumentResult{}, newServiceError(opCreateDocument, "invalid_sequence", KindInvalidInput,
			fmt.Errorf("%w: %d", codification.ErrInvalidSequence, parts.Sequence))
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		err := fmt.Errorf("%w: title", ErrMissingRequiredField)
		return CreateDocumentResult{}, newServiceError(opCreateDocument, "missing_title", KindMissingRequiredField, err)
	}

	similar, err := s.SimilarTitles(ctx, parts.Discipline, title)
	if err != nil {
		return CreateDocumentResult{}, err
	}

	explicitSequence := parts.Sequence > 0
	var created Document
	allocate := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			candidate := parts
			if !explicitSequence {
				var existing []int
				if err := tx.Model(&Document{}).
					Where("project_number = ? AND discipline_code = ?", candidate.Project, candidate.Discipline).
					Pluck("sequence_number", &existing).Error; err != nil {
					s.logError(opCreateDocument, "sequence_scan_failed", err)
					return newServiceError(opCreateDocument, "sequence_scan_failed", KindInternal, err)
				}
				candidate.Sequence = codification.NextSequence(existing)
			}

			docNumber, err := codification.BuildDocumentNumber(candidate)
			if err != nil {
				return newServiceError(opCreateDocument, "invalid_codification", KindInvalidInput, err)
			}

			var taken int64
			if err := tx.Model(&Document{}).Where("doc_number = ?", docNumber).Count(&taken).Error; err != nil {
				s.logError(opCreateDocument, "uniqueness_check_failed", err, zap.String("doc_number", docNumber))
				return newServiceError(opCreateDocument, "uniqueness_check_failed", KindInternal, err)
			}
			if taken > 0 {
				return newServiceError(opCreateDocument, "duplicate_document_number", KindDuplicateDocumentNumber,
					fmt.Errorf("%w: %s", ErrDuplicateDocumentNumber, docNumber))
			}

			documentID, err := s.idProvider.NewID()
			if err != nil {
				s.logError(opCreateDocument, "id_generation_failed", err)
				return newServiceError(opCreateDocument, "id_generation_failed", KindInternal, err)
			}
			now := s.now().Unix()
			document := Document{
				DocumentID:       documentID,
				OwnerID:          strings.TrimSpace(actor.UserID),
				DocNumber:        docNumber,
				ProjectNumber:    candidate.Project,
				DisciplineCode:   candidate.Discipline,
				SequenceNumber:   candidate.Sequence,
				EmitterCode:      candidate.Emitter,
				UnitCode:         candidate.Unit,
				SuffixCode:       candidate.Suffix,
				Title:            title,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}
			if err := tx.Create(&document).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					if explicitSequence {
						return newServiceError(opCreateDocument, "duplicate_document_number", KindDuplicateDocumentNumber,
							fmt.Errorf("%w: %s", ErrDuplicateDocumentNumber, docNumber))
					}
					return errAllocationCollision
				}
				s.logError(opCreateDocument, "document_insert_failed", err, zap.String("doc_number", docNumber))
				return newServiceError(opCreateDocument, "document_insert_failed", KindInternal, err)
			}
			created = document
			return nil
		})
	}

	if err := s.retryOnCollision(ctx, allocationScopeSequence, allocate); err != nil {
		s.metrics.DocumentCreated(metrics.OutcomeFailure)
		if errors.Is(err, errAllocationCollision) {
			s.logError(opCreateDocument, "sequence_exhausted", err)
			return CreateDocumentResult{}, newServiceError(opCreateDocument, "sequence_exhausted", KindInternal, err)
		}
		return CreateDocumentResult{}, err
	}

	s.metrics.DocumentCreated(metrics.OutcomeSuccess)
	return CreateDocumentResult{Document: created, Similar: similar}, nil
}

// AppendRevision hashes and stores the attached file, then inserts the revision and moves the
// document's current pointer in one transaction.
func (s *Service) AppendRevision(ctx context.Context, actor Actor, input AppendRevisionInput) (Revision, error) {
	if err := actor.validate(); err != nil {
		return Revision{}, newServiceError(opAppendRevision, "invalid_actor", kindForValidation(err), err)
	}
	label := strings.TrimSpace(input.Label)
	if label == "" {
		return Revision{}, newServiceError(opAppendRevision, "missing_revision_label", KindMissingRequiredField,
			fmt.Errorf("%w: revision label", ErrMissingRequiredField))
	}
	if len(label) > maxRevisionLabelLength {
		return Revision{}, newServiceError(opAppendRevision, "invalid_revision_label", KindInvalidInput,
			fmt.Errorf("%w: revision label exceeds %d characters", ErrInvalidInput, maxRevisionLabelLength))
	}
	redacteur := strings.TrimSpace(input.Redacteur)
	if redacteur == "" {
		return Revision{}, newServiceError(opAppendRevision, "missing_redacteur", KindMissingRequiredField,
			fmt.Errorf("%w: redacteur", ErrMissingRequiredField))
	}
	status := input.Status
	if status == "" {
		status = StatusPreliminary
	}
	status, err := ParseStatus(string(status))
	if err != nil {
		return Revision{}, newServiceError(opAppendRevision, "invalid_status", KindInvalidInput, err)
	}
	if input.File != nil && len(input.File.Content) == 0 {
		return Revision{}, newServiceError(opAppendRevision, "empty_file", KindInvalidInput,
			fmt.Errorf("%w: attached file is empty", ErrInvalidInput))
	}

	document, err := s.GetDocument(ctx, input.DocumentID)
	if err != nil {
		return Revision{}, err
	}

	now := s.now()
	revisionDate := input.RevisionDate
	if revisionDate.IsZero() {
		revisionDate = now
	}
	revision := Revision{
		DocumentID:          document.DocumentID,
		Label:               label,
		Status:              status,
		Redacteur:           redacteur,
		Verificateur:        strings.TrimSpace(input.Verificateur),
		Approbateur:         strings.TrimSpace(input.Approbateur),
		Changes:             strings.TrimSpace(input.Changes),
		RevisionDateSeconds: revisionDate.UTC().Unix(),
		CreatedByUserID:     strings.TrimSpace(actor.UserID),
		CreatedAtSeconds:    now.Unix(),
	}

	if input.File != nil {
		revision.FileHash = digest.Hash(input.File.Content)
		revision.FileName = strings.TrimSpace(input.File.Name)
		revision.FileSize = int64(len(input.File.Content))
		revision.ContentType = contentTypeFor(input.File.Name, input.File.ContentType)
		revision.FilePath = StoragePath(document.OwnerID, document.DocNumber, label, input.File.Name)
		if err := s.blobs.Put(ctx, revision.FilePath, input.File.Content, revision.ContentType); err != nil {
			s.logError(opAppendRevision, "blob_put_failed", err,
				zap.String("doc_number", document.DocNumber),
				zap.String("path", revision.FilePath))
			return Revision{}, newServiceError(opAppendRevision, "blob_put_failed", KindStorageFailure, err)
		}
	}

	revisionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppendRevision, "id_generation_failed", err)
		return Revision{}, newServiceError(opAppendRevision, "id_generation_failed", KindInternal, err)
	}
	revision.RevisionID = revisionID

	insert := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var lastIndex int
			if err := tx.Model(&Revision{}).
				Where("document_id = ?", document.DocumentID).
				Select("COALESCE(MAX(revision_index), 0)").
				Scan(&lastIndex).Error; err != nil {
				s.logError(opAppendRevision, "revision_scan_failed", err)
				return newServiceError(opAppendRevision, "revision_scan_failed", KindInternal, err)
			}
			candidate := revision
			candidate.RevisionIndex = lastIndex + 1
			if err := tx.Create(&candidate).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errAllocationCollision
				}
				s.logError(opAppendRevision, "revision_insert_failed", err, zap.String("doc_number", document.DocNumber))
				return newServiceError(opAppendRevision, "revision_insert_failed", KindInternal, err)
			}
			if err := tx.Model(&Document{}).
				Where("document_id = ?", document.DocumentID).
				Updates(map[string]interface{}{
					"current_revision": candidate.Label,
					"current_status":   candidate.Status,
					"updated_at_s":     now.Unix(),
				}).Error; err != nil {
				s.logError(opAppendRevision, "document_update_failed", err, zap.String("doc_number", document.DocNumber))
				return newServiceError(opAppendRevision, "document_update_failed", KindInternal, err)
			}
			revision = candidate
			return nil
		})
	}
	if err := s.retryOnCollision(ctx, allocationScopeRevision, insert); err != nil {
		if errors.Is(err, errAllocationCollision) {
			return Revision{}, newServiceError(opAppendRevision, "revision_index_exhausted", KindInternal, err)
		}
		return Revision{}, err
	}

	s.metrics.RevisionAppended(revision.HasFile())
	document.CurrentRevision = revision.Label
	document.CurrentStatus = revision.Status
	if next, ok := NextPendingRole(revision, nil); ok {
		s.dispatch(ctx, Notification{
			Kind:          EventSignatureRequested,
			Document:      document,
			Revision:      revision,
			Role:          next.Role,
			ActorName:     actorName(actor),
			RecipientName: next.PlannedName,
		})
	}
	return revision, nil
}

// GetDocument loads a document by id.
func (s *Service) GetDocument(ctx context.Context, documentID string) (Document, error) {
	trimmed := strings.TrimSpace(documentID)
	if trimmed == "" {
		return Document{}, newServiceError(opGetDocument, "missing_document_id", KindMissingRequiredField,
			fmt.Errorf("%w: document id", ErrMissingRequiredField))
	}
	var document Document
	err := s.db.WithContext(ctx).Where("document_id = ?", trimmed).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newServiceError(opGetDocument, "document_not_found", KindNotFound, err)
	}
	if err != nil {
		s.logError(opGetDocument, "query_failed", err, zap.String("document_id", trimmed))
		return Document{}, newServiceError(opGetDocument, "query_failed", KindInternal, err)
	}
	return document, nil
}

// ListDocuments returns documents ordered by number.
func (s *Service) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	query := s.db.WithContext(ctx).Model(&Document{})
	if project := strings.TrimSpace(filter.ProjectNumber); project != "" {
		query = query.Where("project_number = ?", project)
	}
	if discipline := strings.TrimSpace(filter.DisciplineCode); discipline != "" {
		query = query.Where("discipline_code = ?", discipline)
	}
	var documents []Document
	if err := query.Order("doc_number ASC").Find(&documents).Error; err != nil {
		s.logError(opListDocuments, "query_failed", err)
		return nil, newServiceError(opListDocuments, "query_failed", KindInternal, err)
	}
	return documents, nil
}

// ListRevisions returns the revisions of a document in append order.
func (s *Service) ListRevisions(ctx context.Context, documentID string) ([]Revision, error) {
	document, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var revisions []Revision
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", document.DocumentID).
		Order("revision_index ASC").
		Find(&revisions).Error; err != nil {
		s.logError(opListRevisions, "query_failed", err, zap.String("document_id", document.DocumentID))
		return nil, newServiceError(opListRevisions, "query_failed", KindInternal, err)
	}
	return revisions, nil
}

// RevisionBundle loads a revision with its document and signatures.
func (s *Service) RevisionBundle(ctx context.Context, revisionID string) (Bundle, error) {
	trimmed := strings.TrimSpace(revisionID)
	if trimmed == "" {
		return Bundle{}, newServiceError(opGetRevision, "missing_revision_id", KindMissingRequiredField,
			fmt.Errorf("%w: revision id", ErrMissingRequiredField))
	}
	var revision Revision
	err := s.db.WithContext(ctx).Where("revision_id = ?", trimmed).Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bundle{}, newServiceError(opGetRevision, "revision_not_found", KindNotFound, err)
	}
	if err != nil {
		s.logError(opGetRevision, "query_failed", err, zap.String("revision_id", trimmed))
		return Bundle{}, newServiceError(opGetRevision, "query_failed", KindInternal, err)
	}
	return s.completeBundle(ctx, opGetRevision, revision)
}

// LatestBundle loads the most recently appended revision of a document.
func (s *Service) LatestBundle(ctx context.Context, documentID string) (Bundle, error) {
	document, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return Bundle{}, err
	}
	var revision Revision
	err = s.db.WithContext(ctx).
		Where("document_id = ?", document.DocumentID).
		Order("revision_index DESC").
		Take(&revision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bundle{}, newServiceError(opLatestBundle, "no_revisions", KindNotFound,
			fmt.Errorf("%w: %s has no revision", ErrNotFound, document.DocNumber))
	}
	if err != nil {
		s.logError(opLatestBundle, "query_failed", err, zap.String("document_id", document.DocumentID))
		return Bundle{}, newServiceError(opLatestBundle, "query_failed", KindInternal, err)
	}
	return s.completeBundle(ctx, opLatestBundle, revision)
}

// CurrentRevision returns the revision the document's current pointer designates.
func (s *Service) CurrentRevision(ctx context.Context, documentID string) (Revision, error) {
	bundle, err := s.LatestBundle(ctx, documentID)
	if err != nil {
		return Revision{}, err
	}
	return bundle.Revision, nil
}

func (s *Service) completeBundle(ctx context.Context, operation string, revision Revision) (Bundle, error) {
	var document Document
	if err := s.db.WithContext(ctx).Where("document_id = ?", revision.DocumentID).Take(&document).Error; err != nil {
		s.logError(operation, "document_query_failed", err, zap.String("revision_id", revision.RevisionID))
		return Bundle{}, newServiceError(operation, "document_query_failed", KindInternal, err)
	}
	signatures, err := s.signaturesFor(ctx, revision.RevisionID)
	if err != nil {
		s.logError(operation, "signature_query_failed", err, zap.String("revision_id", revision.RevisionID))
		return Bundle{}, newServiceError(operation, "signature_query_failed", KindInternal, err)
	}
	return Bundle{Document: document, Revision: revision, Signatures: signatures}, nil
}

func (s *Service) signaturesFor(ctx context.Context, revisionID string) ([]Signature, error) {
	var signatures []Signature
	if err := s.db.WithContext(ctx).
		Where("revision_id = ?", revisionID).
		Order("signed_at_s ASC").
		Find(&signatures).Error; err != nil {
		return nil, err
	}
	return signatures, nil
}

// SuggestNumber previews the number the next document of this scope would receive.
func (s *Service) SuggestNumber(ctx context.Context, input CreateDocumentInput) (string, error) {
	parts := input.parts()
	if err := parts.Validate(); err != nil {
		return "", newServiceError(opSuggestNumber, "invalid_codification", KindInvalidInput, err)
	}
	var existing []int
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("project_number = ? AND discipline_code = ?", parts.Project, parts.Discipline).
		Pluck("sequence_number", &existing).Error; err != nil {
		s.logError(opSuggestNumber, "sequence_scan_failed", err)
		return "", newServiceError(opSuggestNumber, "sequence_scan_failed", KindInternal, err)
	}
	parts.Sequence = codification.NextSequence(existing)
	number, err := codification.BuildDocumentNumber(parts)
	if err != nil {
		return "", newServiceError(opSuggestNumber, "invalid_codification", KindInvalidInput, err)
	}
	return number, nil
}

// SimilarTitles scores title against existing documents of the discipline.
func (s *Service) SimilarTitles(ctx context.Context, discipline, title string) ([]similarity.Match, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).
		Where("discipline_code = ?", strings.TrimSpace(discipline)).
		Order("created_at_s ASC").
		Find(&documents).Error; err != nil {
		s.logError(opSimilarTitles, "query_failed", err)
		return nil, newServiceError(opSimilarTitles, "query_failed", KindInternal, err)
	}
	candidates := make([]similarity.Candidate, 0, len(documents))
	for _, document := range documents {
		candidates = append(candidates, similarity.Candidate{
			DocumentID: document.DocumentID,
			DocNumber:  document.DocNumber,
			Discipline: document.DisciplineCode,
			Title:      document.Title,
		})
	}
	return similarity.FindSimilar(title, discipline, candidates), nil
}

func kindForValidation(err error) ErrorKind {
	if errors.Is(err, ErrMissingRequiredField) {
		return KindMissingRequiredField
	}
	return KindInvalidInput
}

func actorName(actor Actor) string {
	if name := strings.TrimSpace(actor.DisplayName); name != "" {
		return name
	}
	if email := strings.TrimSpace(actor.Email); email != "" {
		return email
	}
	return strings.TrimSpace(actor.UserID)
}
