package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/transmission"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createBordereauRequest struct {
	DocumentIDs    []string `json:"document_ids"`
	RecipientName  string   `json:"recipient_name"`
	RecipientEmail string   `json:"recipient_email"`
	Note           string   `json:"note"`
}

func (h *httpHandler) handleNextBordereauNumber(c *gin.Context) {
	number, err := h.transmission.NextBordereauNumber(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": number})
}

func (h *httpHandler) handleCreateBordereau(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request createBordereauRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	bordereau, err := h.transmission.Create(c.Request.Context(), actor, transmission.CreateInput{
		DocumentIDs:    request.DocumentIDs,
		RecipientName:  request.RecipientName,
		RecipientEmail: request.RecipientEmail,
		Note:           request.Note,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBordereauPayload(bordereau))
}

func (h *httpHandler) handleListBordereaux(c *gin.Context) {
	bordereaux, err := h.transmission.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	payloads := make([]bordereauPayload, 0, len(bordereaux))
	for _, bordereau := range bordereaux {
		payloads = append(payloads, newBordereauPayload(bordereau))
	}
	c.JSON(http.StatusOK, gin.H{"bordereaux": payloads})
}

func (h *httpHandler) handleGetBordereau(c *gin.Context) {
	bordereau, err := h.transmission.Get(c.Request.Context(), c.Param("bordereauID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBordereauPayload(bordereau))
}

func (h *httpHandler) handleBordereauPDF(c *gin.Context) {
	bordereau, err := h.transmission.Get(c.Request.Context(), c.Param("bordereauID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	rendered, err := transmission.Render(bordereau)
	if err != nil {
		h.logger.Error("failed to render bordereau", zap.String("number", bordereau.Number), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(documents.KindInternal)})
		return
	}
	writeAttachment(c, transmission.FileName(bordereau), "application/pdf", rendered)
}
