package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/gin-gonic/gin"
)

const (
	revisionDateLayout = "2006-01-02"
	opReadUpload       = "server.read_upload"
)

type createDocumentRequest struct {
	ProjectNumber  string `json:"project_number"`
	EmitterCode    string `json:"emitter_code"`
	UnitCode       string `json:"unit_code"`
	DisciplineCode string `json:"discipline_code"`
	SuffixCode     string `json:"suffix_code"`
	Sequence       int    `json:"sequence"`
	Title          string `json:"title"`
}

func (r createDocumentRequest) input() documents.CreateDocumentInput {
	return documents.CreateDocumentInput{
		ProjectNumber:  r.ProjectNumber,
		EmitterCode:    r.EmitterCode,
		UnitCode:       r.UnitCode,
		DisciplineCode: r.DisciplineCode,
		SuffixCode:     r.SuffixCode,
		Sequence:       r.Sequence,
		Title:          r.Title,
	}
}

type createDocumentResponse struct {
	Document documentPayload  `json:"document"`
	Similar  []similarPayload `json:"similar"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request createDocumentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.documents.CreateDocument(c.Request.Context(), actor, request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createDocumentResponse{
		Document: newDocumentPayload(result.Document),
		Similar:  newSimilarPayloads(result.Similar),
	})
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	found, err := h.documents.ListDocuments(c.Request.Context(), documents.DocumentFilter{
		ProjectNumber:  c.Query("project"),
		DisciplineCode: c.Query("discipline"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]documentPayload, 0, len(found))
	for _, document := range found {
		payloads = append(payloads, newDocumentPayload(document))
	}
	c.JSON(http.StatusOK, gin.H{"documents": payloads})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, err := h.documents.GetDocument(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentPayload(document))
}

func (h *httpHandler) handleSimilarTitles(c *gin.Context) {
	discipline := strings.TrimSpace(c.Query("discipline"))
	title := strings.TrimSpace(c.Query("title"))
	if discipline == "" || title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	matches, err := h.documents.SimilarTitles(c.Request.Context(), discipline, title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"similar": newSimilarPayloads(matches)})
}

func (h *httpHandler) handleNumberPreview(c *gin.Context) {
	number, err := h.documents.SuggestNumber(c.Request.Context(), documents.CreateDocumentInput{
		ProjectNumber:  c.Query("project"),
		EmitterCode:    c.Query("emitter"),
		UnitCode:       c.Query("unit"),
		DisciplineCode: c.Query("discipline"),
		SuffixCode:     c.Query("suffix"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_number": number})
}

func (h *httpHandler) handleListRevisions(c *gin.Context) {
	revisions, err := h.documents.ListRevisions(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]revisionPayload, 0, len(revisions))
	for _, revision := range revisions {
		payloads = append(payloads, newRevisionPayload(revision))
	}
	c.JSON(http.StatusOK, gin.H{"revisions": payloads})
}

// handleAppendRevision accepts a multipart form; the file part is optional.
func (h *httpHandler) handleAppendRevision(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	input := documents.AppendRevisionInput{
		DocumentID:   c.Param("documentID"),
		Label:        c.PostForm("revision"),
		Status:       documents.Status(c.PostForm("status")),
		Redacteur:    c.PostForm("redacteur"),
		Verificateur: c.PostForm("verificateur"),
		Approbateur:  c.PostForm("approbateur"),
		Changes:      c.PostForm("changes"),
	}
	if rawDate := strings.TrimSpace(c.PostForm("revision_date")); rawDate != "" {
		revisionDate, err := time.Parse(revisionDateLayout, rawDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_revision_date"})
			return
		}
		input.RevisionDate = revisionDate
	}

	fileHeader, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	default:
		upload, err := readUpload(fileHeader)
		if err != nil {
			h.respondError(c, err)
			return
		}
		input.File = upload
	}

	revision, err := h.documents.AppendRevision(c.Request.Context(), actor, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRevisionPayload(revision))
}

// readUpload buffers the attached file. The bytes cannot be hashed when they cannot be read.
func readUpload(fileHeader *multipart.FileHeader) (*documents.FileUpload, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, documents.NewError(opReadUpload, "unreadable_upload", documents.KindHashComputationFailure, err)
	}
	defer file.Close() //nolint:errcheck
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, documents.NewError(opReadUpload, "unreadable_upload", documents.KindHashComputationFailure, err)
	}
	return &documents.FileUpload{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

type signRequest struct {
	Role string `json:"role"`
}

func (h *httpHandler) handleSign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request signRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Role) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	outcome, err := h.documents.Sign(c.Request.Context(), actor, documents.SignInput{
		RevisionID: c.Param("revisionID"),
		Role:       documents.Role(request.Role),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := signResponsePayload{
		Signature:     newSignaturePayload(outcome.Signature),
		Warnings:      outcome.Warnings,
		Roles:         newRoleStatePayloads(outcome.States),
		FullyApproved: outcome.FullyApproved,
	}
	if response.Warnings == nil {
		response.Warnings = []documents.Warning{}
	}
	if outcome.NextRole != nil {
		response.NextRole = string(outcome.NextRole.Role)
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleWorkflow(c *gin.Context) {
	state, err := h.documents.Workflow(c.Request.Context(), c.Param("revisionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := workflowPayload{
		DocumentID:    state.Bundle.Document.DocumentID,
		DocNumber:     state.Bundle.Document.DocNumber,
		RevisionID:    state.Bundle.Revision.RevisionID,
		Revision:      state.Bundle.Revision.Label,
		Roles:         newRoleStatePayloads(state.States),
		FullyApproved: state.FullyApproved,
	}
	if state.NextRole != nil {
		response.NextRole = string(state.NextRole.Role)
	}
	c.JSON(http.StatusOK, response)
}
