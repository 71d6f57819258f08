// Package transmission freezes the state of selected documents into bordereaux, the formal
// record of what was sent to whom and when.
package transmission

import (
	"errors"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"gorm.io/gorm"
)

// ErrSnapshotImmutable is returned by any attempt to update or delete a bordereau row.
var ErrSnapshotImmutable = errors.New("transmission: bordereau rows are immutable")

// Bordereau is the header of one transmission.
type Bordereau struct {
	BordereauID      string          `gorm:"column:bordereau_id;primaryKey;size:190;not null"`
	Number           string          `gorm:"column:number;size:32;not null;uniqueIndex:idx_bordereaux_number"`
	Year             int             `gorm:"column:year;not null;uniqueIndex:idx_bordereaux_year_sequence,priority:1"`
	Sequence         int             `gorm:"column:sequence;not null;uniqueIndex:idx_bordereaux_year_sequence,priority:2"`
	EmittedAtSeconds int64           `gorm:"column:emitted_at_s;not null"`
	SenderUserID     string          `gorm:"column:sender_user_id;size:190;not null;index"`
	SenderName       string          `gorm:"column:sender_name;size:320;not null;default:''"`
	SenderEmail      string          `gorm:"column:sender_email;size:320;not null;default:''"`
	RecipientName    string          `gorm:"column:recipient_name;size:320;not null"`
	RecipientEmail   string          `gorm:"column:recipient_email;size:320;not null;default:''"`
	Note             string          `gorm:"column:note;type:text;not null;default:''"`
	Lines            []BordereauLine `gorm:"foreignKey:BordereauID;references:BordereauID"`
}

func (Bordereau) TableName() string {
	return "transmission_bordereaux"
}

func (Bordereau) BeforeUpdate(*gorm.DB) error {
	return ErrSnapshotImmutable
}

func (Bordereau) BeforeDelete(*gorm.DB) error {
	return ErrSnapshotImmutable
}

// BordereauLine is the frozen copy of one document as transmitted. Per-role signing columns
// stay NULL for planned roles that were not signed at emission time.
type BordereauLine struct {
	LineID                      string           `gorm:"column:line_id;primaryKey;size:190;not null"`
	BordereauID                 string           `gorm:"column:bordereau_id;size:190;not null;uniqueIndex:idx_bordereau_lines_position,priority:1"`
	Position                    int              `gorm:"column:position;not null;uniqueIndex:idx_bordereau_lines_position,priority:2"`
	DocumentID                  string           `gorm:"column:document_id;size:190;not null;index"`
	RevisionID                  string           `gorm:"column:revision_id;size:190;not null"`
	DocNumber                   string           `gorm:"column:doc_number;size:190;not null"`
	DocTitle                    string           `gorm:"column:doc_title;type:text;not null"`
	DisciplineCode              string           `gorm:"column:discipline_code;size:32;not null"`
	Revision                    string           `gorm:"column:revision;size:32;not null"`
	Status                      documents.Status `gorm:"column:status;size:32;not null"`
	FileHash                    string           `gorm:"column:file_hash;size:64;not null;default:''"`
	Redacteur                   string           `gorm:"column:redacteur;size:320;not null;default:''"`
	RedacteurSignedAtSeconds    *int64           `gorm:"column:redacteur_signed_at_s"`
	RedacteurSignerUserID       *string          `gorm:"column:redacteur_signer_user_id;size:190"`
	Verificateur                string           `gorm:"column:verificateur;size:320;not null;default:''"`
	VerificateurSignedAtSeconds *int64           `gorm:"column:verificateur_signed_at_s"`
	VerificateurSignerUserID    *string          `gorm:"column:verificateur_signer_user_id;size:190"`
	Approbateur                 string           `gorm:"column:approbateur;size:320;not null;default:''"`
	ApprobateurSignedAtSeconds  *int64           `gorm:"column:approbateur_signed_at_s"`
	ApprobateurSignerUserID     *string          `gorm:"column:approbateur_signer_user_id;size:190"`
}

func (BordereauLine) TableName() string {
	return "transmission_bordereau_lines"
}

func (BordereauLine) BeforeUpdate(*gorm.DB) error {
	return ErrSnapshotImmutable
}

func (BordereauLine) BeforeDelete(*gorm.DB) error {
	return ErrSnapshotImmutable
}

// LineRole is the frozen state of one role on a line.
type LineRole struct {
	Role         documents.Role
	PlannedName  string
	SignedAt     *int64
	SignerUserID *string
}

// State derives the role state from the frozen columns.
func (r LineRole) State() documents.RoleState {
	switch {
	case r.PlannedName == "":
		return documents.RoleStateUnplanned
	case r.SignedAt != nil:
		return documents.RoleStateSigned
	default:
		return documents.RoleStatePending
	}
}

// Roles lists the frozen roles in canonical order.
func (l BordereauLine) Roles() []LineRole {
	return []LineRole{
		{Role: documents.RoleRedacteur, PlannedName: l.Redacteur, SignedAt: l.RedacteurSignedAtSeconds, SignerUserID: l.RedacteurSignerUserID},
		{Role: documents.RoleVerificateur, PlannedName: l.Verificateur, SignedAt: l.VerificateurSignedAtSeconds, SignerUserID: l.VerificateurSignerUserID},
		{Role: documents.RoleApprobateur, PlannedName: l.Approbateur, SignedAt: l.ApprobateurSignedAtSeconds, SignerUserID: l.ApprobateurSignerUserID},
	}
}

// Models lists the tables owned by this package.
func Models() []interface{} {
	return []interface{}{&Bordereau{}, &BordereauLine{}}
}
