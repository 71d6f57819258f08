package transmission

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
)

// SnapshotLine copies every field of bundle into a new line. Nothing in the result points
// back at the live rows.
func SnapshotLine(bundle documents.Bundle) BordereauLine {
	line := BordereauLine{
		DocumentID:     bundle.Document.DocumentID,
		RevisionID:     bundle.Revision.RevisionID,
		DocNumber:      bundle.Document.DocNumber,
		DocTitle:       bundle.Document.Title,
		DisciplineCode: bundle.Document.DisciplineCode,
		Revision:       bundle.Revision.Label,
		Status:         bundle.Revision.Status,
		FileHash:       bundle.Revision.FileHash,
		Redacteur:      bundle.Revision.Redacteur,
		Verificateur:   bundle.Revision.Verificateur,
		Approbateur:    bundle.Revision.Approbateur,
	}
	for _, status := range documents.RoleStates(bundle.Revision, bundle.Signatures) {
		if status.State != documents.RoleStateSigned {
			continue
		}
		signedAt := status.Signature.SignedAtSeconds
		signerUserID := status.Signature.UserID
		switch status.Role {
		case documents.RoleRedacteur:
			line.RedacteurSignedAtSeconds, line.RedacteurSignerUserID = &signedAt, &signerUserID
		case documents.RoleVerificateur:
			line.VerificateurSignedAtSeconds, line.VerificateurSignerUserID = &signedAt, &signerUserID
		case documents.RoleApprobateur:
			line.ApprobateurSignedAtSeconds, line.ApprobateurSignerUserID = &signedAt, &signerUserID
		}
	}
	return line
}

// SignerSummary renders the roles of a line compactly, e.g. "R:S V:P A:-".
func SignerSummary(line BordereauLine) string {
	parts := make([]string, 0, 3)
	for _, role := range line.Roles() {
		marker := "-"
		switch role.State() {
		case documents.RoleStateSigned:
			marker = "S"
		case documents.RoleStatePending:
			marker = "P"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", role.Role.Initial(), marker))
	}
	return strings.Join(parts, " ")
}
