package documents

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
)

const maxIdentifierLength = 190

// Role is one of the three approval roles of a revision.
type Role string

const (
	RoleRedacteur    Role = "REDACTEUR"
	RoleVerificateur Role = "VERIFICATEUR"
	RoleApprobateur  Role = "APPROBATEUR"
)

// Roles returns the roles in canonical signing order.
func Roles() []Role {
	return []Role{RoleRedacteur, RoleVerificateur, RoleApprobateur}
}

// ParseRole accepts the role code case-insensitively, with or without accents.
func ParseRole(raw string) (Role, error) {
	candidate := Role(strings.ToUpper(textfold.StripDiacritics(strings.TrimSpace(raw))))
	for _, role := range Roles() {
		if role == candidate {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

// Label returns the display label of the role.
func (r Role) Label() string {
	switch r {
	case RoleRedacteur:
		return "Rédacteur"
	case RoleVerificateur:
		return "Vérificateur"
	case RoleApprobateur:
		return "Approbateur"
	default:
		return string(r)
	}
}

// Initial is the one-letter abbreviation used in compact summaries.
func (r Role) Initial() string {
	if r == "" {
		return ""
	}
	return string(r)[:1]
}

// RoleState is computed from the planned name and the presence of a signature.
type RoleState string

const (
	RoleStateUnplanned RoleState = "unplanned"
	RoleStatePending   RoleState = "pending"
	RoleStateSigned    RoleState = "signed"
)

// Status is the lifecycle code of a revision.
type Status string

const (
	StatusPreliminary     Status = "preliminary"
	StatusForReview       Status = "for_review"
	StatusForConstruction Status = "for_construction"
	StatusAsBuilt         Status = "as_built"
	StatusCancelled       Status = "cancelled"
)

// ParseStatus validates a lifecycle code.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusPreliminary, StatusForReview, StatusForConstruction, StatusAsBuilt, StatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
}

// Label returns the display label of the status.
func (s Status) Label() string {
	switch s {
	case StatusPreliminary:
		return "Préliminaire"
	case StatusForReview:
		return "Pour revue"
	case StatusForConstruction:
		return "Bon pour exécution"
	case StatusAsBuilt:
		return "Conforme à exécution"
	case StatusCancelled:
		return "Annulé"
	default:
		return string(s)
	}
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID      string
	DisplayName string
	Email       string
}

func (a Actor) validate() error {
	trimmed := strings.TrimSpace(a.UserID)
	if trimmed == "" {
		return fmt.Errorf("%w: actor user id", ErrMissingRequiredField)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: actor user id exceeds %d characters", ErrInvalidInput, maxIdentifierLength)
	}
	return nil
}

// Document is the identity record of a controlled document.
type Document struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index"`
	DocNumber        string `gorm:"column:doc_number;size:190;not null;uniqueIndex:idx_documents_doc_number"`
	ProjectNumber    string `gorm:"column:project_number;size:64;not null;uniqueIndex:idx_documents_sequence,priority:1"`
	DisciplineCode   string `gorm:"column:discipline_code;size:32;not null;uniqueIndex:idx_documents_sequence,priority:2"`
	SequenceNumber   int    `gorm:"column:sequence_number;not null;uniqueIndex:idx_documents_sequence,priority:3"`
	EmitterCode      string `gorm:"column:emitter_code;size:32;not null;default:''"`
	UnitCode         string `gorm:"column:unit_code;size:32;not null;default:''"`
	SuffixCode       string `gorm:"column:suffix_code;size:32;not null;default:''"`
	Title            string `gorm:"column:title;type:text;not null"`
	CurrentRevision  string `gorm:"column:current_revision;size:32;not null;default:''"`
	CurrentStatus    Status `gorm:"column:current_status;size:32;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Revision is an append-only version record of a document.
type Revision struct {
	RevisionID          string `gorm:"column:revision_id;primaryKey;size:190;not null"`
	DocumentID          string `gorm:"column:document_id;size:190;not null;uniqueIndex:idx_revisions_order,priority:1"`
	RevisionIndex       int    `gorm:"column:revision_index;not null;uniqueIndex:idx_revisions_order,priority:2"`
	Label               string `gorm:"column:revision;size:32;not null"`
	Status              Status `gorm:"column:status;size:32;not null"`
	Redacteur           string `gorm:"column:redacteur;size:320;not null;default:''"`
	Verificateur        string `gorm:"column:verificateur;size:320;not null;default:''"`
	Approbateur         string `gorm:"column:approbateur;size:320;not null;default:''"`
	Changes             string `gorm:"column:changes;type:text;not null;default:''"`
	RevisionDateSeconds int64  `gorm:"column:revision_date_s;not null"`
	FilePath            string `gorm:"column:file_path;size:512;not null;default:''"`
	FileName            string `gorm:"column:file_name;size:320;not null;default:''"`
	FileSize            int64  `gorm:"column:file_size;not null;default:0"`
	FileHash            string `gorm:"column:file_hash;size:64;not null;default:''"`
	ContentType         string `gorm:"column:content_type;size:128;not null;default:''"`
	CreatedByUserID     string `gorm:"column:created_by_user_id;size:190;not null"`
	CreatedAtSeconds    int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "document_revisions"
}

// PlannedName returns the planned signer of role, empty when the role does not apply.
func (r Revision) PlannedName(role Role) string {
	switch role {
	case RoleRedacteur:
		return strings.TrimSpace(r.Redacteur)
	case RoleVerificateur:
		return strings.TrimSpace(r.Verificateur)
	case RoleApprobateur:
		return strings.TrimSpace(r.Approbateur)
	default:
		return ""
	}
}

// HasFile reports whether a file was attached to the revision.
func (r Revision) HasFile() bool {
	return r.FilePath != ""
}

// Signature is the immutable approval of one role on one revision.
type Signature struct {
	SignatureID     string  `gorm:"column:signature_id;primaryKey;size:190;not null"`
	RevisionID      string  `gorm:"column:revision_id;size:190;not null;uniqueIndex:idx_signatures_revision_role,priority:1"`
	Role            Role    `gorm:"column:role;size:32;not null;uniqueIndex:idx_signatures_revision_role,priority:2"`
	UserID          string  `gorm:"column:user_id;size:190;not null"`
	FullName        string  `gorm:"column:full_name;size:320;not null"`
	SignedAtSeconds int64   `gorm:"column:signed_at_s;not null"`
	DocHash         *string `gorm:"column:doc_hash;size:64"`
}

// TableName provides the explicit table binding for GORM.
func (Signature) TableName() string {
	return "revision_signatures"
}

// Bundle is a revision together with its document and signatures.
type Bundle struct {
	Document   Document
	Revision   Revision
	Signatures []Signature
}

// Models lists the tables owned by this package.
func Models() []interface{} {
	return []interface{}{&Document{}, &Revision{}, &Signature{}}
}
