// Package integrity produces the authenticated artifacts handed out when a revision is exported:
// a stamped copy of PDF files and a standalone certificate for everything else.
package integrity

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/digest"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
)

const (
	timestampLayout = "2006-01-02 15:04 UTC"
	dateLayout      = "2006-01-02"
)

// Record is the snapshot of ledger and workflow state printed on exported artifacts.
type Record struct {
	DocNumber     string
	Title         string
	RevisionLabel string
	Status        documents.Status
	FileName      string
	FileSize      int64
	FileHash      string
	ExportedAt    time.Time
	Roles         []documents.RoleStatus
}

// NewRecord captures bundle as of exportedAt.
func NewRecord(bundle documents.Bundle, exportedAt time.Time) Record {
	return Record{
		DocNumber:     bundle.Document.DocNumber,
		Title:         bundle.Document.Title,
		RevisionLabel: bundle.Revision.Label,
		Status:        bundle.Revision.Status,
		FileName:      bundle.Revision.FileName,
		FileSize:      bundle.Revision.FileSize,
		FileHash:      bundle.Revision.FileHash,
		ExportedAt:    exportedAt.UTC(),
		Roles:         documents.RoleStates(bundle.Revision, bundle.Signatures),
	}
}

// FullyApproved reports whether every planned role is signed.
func (r Record) FullyApproved() bool {
	for _, role := range r.Roles {
		if role.State == documents.RoleStatePending {
			return false
		}
	}
	return true
}

func (r Record) headline() string {
	return ascii(fmt.Sprintf("%s  Rev. %s  (%s)", r.DocNumber, r.RevisionLabel, r.Status.Label()))
}

func (r Record) exportLine() string {
	return "Exporte le " + r.ExportedAt.Format(timestampLayout)
}

func (r Record) hashLine() string {
	if r.FileHash == "" {
		return "SHA-256: aucun fichier"
	}
	return "SHA-256: " + digest.Display(r.FileHash)
}

// roleLine describes one role the way it is printed next to its indicator.
func roleLine(status documents.RoleStatus) string {
	label := status.Role.Label()
	switch status.State {
	case documents.RoleStateSigned:
		signedAt := time.Unix(status.Signature.SignedAtSeconds, 0).UTC().Format(dateLayout)
		return ascii(fmt.Sprintf("%s: %s  signe le %s  cle %s",
			label, status.Signature.FullName, signedAt, documents.SigningKey(status.Signature.UserID)))
	case documents.RoleStatePending:
		return ascii(fmt.Sprintf("%s: %s  en attente", label, status.PlannedName))
	default:
		return ascii(label + ": non prevu")
	}
}

func ascii(value string) string {
	return textfold.ASCII(value)
}
