package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type realtimeEventPayload struct {
	DocumentID  string `json:"document_id"`
	DocNumber   string `json:"doc_number"`
	RevisionID  string `json:"revision_id"`
	Revision    string `json:"revision"`
	Role        string `json:"role,omitempty"`
	ActorName   string `json:"actor_name,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// handleEventStream pushes the caller's workflow notifications as server-sent events and emits a
// heartbeat while idle.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				DocumentID:  message.DocumentID,
				DocNumber:   message.DocNumber,
				RevisionID:  message.RevisionID,
				Revision:    message.Revision,
				Role:        string(message.Role),
				ActorName:   message.ActorName,
				TimestampMs: message.Timestamp.UnixMilli(),
			})
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			c.Writer.Flush()
		}
	}
}
