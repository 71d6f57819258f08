package server

import (
	"github.com/MarcoPoloResearchLab/kore/backend/internal/digest"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/similarity"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
)

type documentPayload struct {
	DocumentID         string `json:"document_id"`
	DocNumber          string `json:"doc_number"`
	ProjectNumber      string `json:"project_number"`
	EmitterCode        string `json:"emitter_code,omitempty"`
	UnitCode           string `json:"unit_code,omitempty"`
	DisciplineCode     string `json:"discipline_code"`
	SuffixCode         string `json:"suffix_code,omitempty"`
	SequenceNumber     int    `json:"sequence_number"`
	Title              string `json:"title"`
	OwnerID            string `json:"owner_id"`
	CurrentRevision    string `json:"current_revision,omitempty"`
	CurrentStatus      string `json:"current_status,omitempty"`
	CurrentStatusLabel string `json:"current_status_label,omitempty"`
	CreatedAtSeconds   int64  `json:"created_at_s"`
	UpdatedAtSeconds   int64  `json:"updated_at_s"`
}

func newDocumentPayload(document documents.Document) documentPayload {
	payload := documentPayload{
		DocumentID:       document.DocumentID,
		DocNumber:        document.DocNumber,
		ProjectNumber:    document.ProjectNumber,
		EmitterCode:      document.EmitterCode,
		UnitCode:         document.UnitCode,
		DisciplineCode:   document.DisciplineCode,
		SuffixCode:       document.SuffixCode,
		SequenceNumber:   document.SequenceNumber,
		Title:            document.Title,
		OwnerID:          document.OwnerID,
		CurrentRevision:  document.CurrentRevision,
		CurrentStatus:    string(document.CurrentStatus),
		CreatedAtSeconds: document.CreatedAtSeconds,
		UpdatedAtSeconds: document.UpdatedAtSeconds,
	}
	if document.CurrentStatus != "" {
		payload.CurrentStatusLabel = document.CurrentStatus.Label()
	}
	return payload
}

type revisionPayload struct {
	RevisionID          string `json:"revision_id"`
	DocumentID          string `json:"document_id"`
	RevisionIndex       int    `json:"revision_index"`
	Revision            string `json:"revision"`
	Status              string `json:"status"`
	StatusLabel         string `json:"status_label"`
	Redacteur           string `json:"redacteur"`
	Verificateur        string `json:"verificateur,omitempty"`
	Approbateur         string `json:"approbateur,omitempty"`
	Changes             string `json:"changes,omitempty"`
	RevisionDateSeconds int64  `json:"revision_date_s"`
	FileName            string `json:"file_name,omitempty"`
	FileSize            int64  `json:"file_size,omitempty"`
	FileHash            string `json:"file_hash,omitempty"`
	FileHashDisplay     string `json:"file_hash_display,omitempty"`
	ContentType         string `json:"content_type,omitempty"`
	CreatedByUserID     string `json:"created_by_user_id"`
	CreatedAtSeconds    int64  `json:"created_at_s"`
}

func newRevisionPayload(revision documents.Revision) revisionPayload {
	payload := revisionPayload{
		RevisionID:          revision.RevisionID,
		DocumentID:          revision.DocumentID,
		RevisionIndex:       revision.RevisionIndex,
		Revision:            revision.Label,
		Status:              string(revision.Status),
		StatusLabel:         revision.Status.Label(),
		Redacteur:           revision.Redacteur,
		Verificateur:        revision.Verificateur,
		Approbateur:         revision.Approbateur,
		Changes:             revision.Changes,
		RevisionDateSeconds: revision.RevisionDateSeconds,
		FileName:            revision.FileName,
		FileSize:            revision.FileSize,
		FileHash:            revision.FileHash,
		ContentType:         revision.ContentType,
		CreatedByUserID:     revision.CreatedByUserID,
		CreatedAtSeconds:    revision.CreatedAtSeconds,
	}
	if revision.FileHash != "" {
		payload.FileHashDisplay = digest.Display(revision.FileHash)
	}
	return payload
}

type signaturePayload struct {
	SignatureID     string `json:"signature_id"`
	Role            string `json:"role"`
	UserID          string `json:"user_id"`
	FullName        string `json:"full_name"`
	SignedAtSeconds int64  `json:"signed_at_s"`
	SigningKey      string `json:"signing_key"`
	DocHash         string `json:"doc_hash,omitempty"`
}

func newSignaturePayload(signature documents.Signature) signaturePayload {
	payload := signaturePayload{
		SignatureID:     signature.SignatureID,
		Role:            string(signature.Role),
		UserID:          signature.UserID,
		FullName:        signature.FullName,
		SignedAtSeconds: signature.SignedAtSeconds,
		SigningKey:      documents.SigningKey(signature.UserID),
	}
	if signature.DocHash != nil {
		payload.DocHash = *signature.DocHash
	}
	return payload
}

type roleStatePayload struct {
	Role        string            `json:"role"`
	RoleLabel   string            `json:"role_label"`
	State       string            `json:"state"`
	PlannedName string            `json:"planned_name,omitempty"`
	Signature   *signaturePayload `json:"signature,omitempty"`
}

func newRoleStatePayloads(states []documents.RoleStatus) []roleStatePayload {
	payloads := make([]roleStatePayload, 0, len(states))
	for _, status := range states {
		payload := roleStatePayload{
			Role:        string(status.Role),
			RoleLabel:   status.Role.Label(),
			State:       string(status.State),
			PlannedName: status.PlannedName,
		}
		if status.Signature != nil {
			signature := newSignaturePayload(*status.Signature)
			payload.Signature = &signature
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

type workflowPayload struct {
	DocumentID    string             `json:"document_id"`
	DocNumber     string             `json:"doc_number"`
	RevisionID    string             `json:"revision_id"`
	Revision      string             `json:"revision"`
	Roles         []roleStatePayload `json:"roles"`
	FullyApproved bool               `json:"fully_approved"`
	NextRole      string             `json:"next_role,omitempty"`
}

type signResponsePayload struct {
	Signature     signaturePayload    `json:"signature"`
	Warnings      []documents.Warning `json:"warnings"`
	Roles         []roleStatePayload  `json:"roles"`
	FullyApproved bool                `json:"fully_approved"`
	NextRole      string              `json:"next_role,omitempty"`
}

type similarPayload struct {
	DocumentID string  `json:"document_id"`
	DocNumber  string  `json:"doc_number"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
}

func newSimilarPayloads(matches []similarity.Match) []similarPayload {
	payloads := make([]similarPayload, 0, len(matches))
	for _, match := range matches {
		payloads = append(payloads, similarPayload{
			DocumentID: match.DocumentID,
			DocNumber:  match.DocNumber,
			Title:      match.Title,
			Score:      match.Score,
		})
	}
	return payloads
}

type bordereauLinePayload struct {
	Position       int    `json:"position"`
	DocumentID     string `json:"document_id"`
	RevisionID     string `json:"revision_id"`
	DocNumber      string `json:"doc_number"`
	DocTitle       string `json:"doc_title"`
	DisciplineCode string `json:"discipline_code"`
	Revision       string `json:"revision"`
	Status         string `json:"status"`
	FileHash       string `json:"file_hash,omitempty"`
	Signers        string `json:"signers"`
}

type bordereauPayload struct {
	BordereauID      string                 `json:"bordereau_id"`
	Number           string                 `json:"number"`
	EmittedAtSeconds int64                  `json:"emitted_at_s"`
	SenderUserID     string                 `json:"sender_user_id"`
	SenderName       string                 `json:"sender_name"`
	SenderEmail      string                 `json:"sender_email,omitempty"`
	RecipientName    string                 `json:"recipient_name"`
	RecipientEmail   string                 `json:"recipient_email,omitempty"`
	Note             string                 `json:"note,omitempty"`
	Lines            []bordereauLinePayload `json:"lines"`
}

func newBordereauPayload(bordereau transmission.Bordereau) bordereauPayload {
	payload := bordereauPayload{
		BordereauID:      bordereau.BordereauID,
		Number:           bordereau.Number,
		EmittedAtSeconds: bordereau.EmittedAtSeconds,
		SenderUserID:     bordereau.SenderUserID,
		SenderName:       bordereau.SenderName,
		SenderEmail:      bordereau.SenderEmail,
		RecipientName:    bordereau.RecipientName,
		RecipientEmail:   bordereau.RecipientEmail,
		Note:             bordereau.Note,
		Lines:            make([]bordereauLinePayload, 0, len(bordereau.Lines)),
	}
	for _, line := range bordereau.Lines {
		payload.Lines = append(payload.Lines, bordereauLinePayload{
			Position:       line.Position,
			DocumentID:     line.DocumentID,
			RevisionID:     line.RevisionID,
			DocNumber:      line.DocNumber,
			DocTitle:       line.DocTitle,
			DisciplineCode: line.DisciplineCode,
			Revision:       line.Revision,
			Status:         string(line.Status),
			FileHash:       line.FileHash,
			Signers:        transmission.SignerSummary(line),
		})
	}
	return payload
}
