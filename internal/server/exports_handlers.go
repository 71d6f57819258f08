package server

import (
	"archive/zip"
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/integrity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opFileURL          = "server.file_url"
	contentTypeZip     = "application/zip"
	contentTypeDefault = "application/octet-stream"
)

// handleDownload streams a single artifact as is and bundles several into a zip archive.
func (h *httpHandler) handleDownload(c *gin.Context) {
	export, err := h.exporter.Export(c.Request.Context(), c.Param("revisionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(export.Artifacts) == 1 {
		artifact := export.Artifacts[0]
		writeAttachment(c, artifact.Name, artifact.ContentType, artifact.Content)
		return
	}
	archive, err := zipArtifacts(export.Artifacts)
	if err != nil {
		h.logger.Error("failed to build download archive",
			zap.String("doc_number", export.Record.DocNumber),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(documents.KindInternal)})
		return
	}
	writeAttachment(c, archiveName(export.Record), contentTypeZip, archive)
}

func (h *httpHandler) handleFileURL(c *gin.Context) {
	bundle, err := h.documents.RevisionBundle(c.Request.Context(), c.Param("revisionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !bundle.Revision.HasFile() {
		h.respondError(c, documents.NewError(opFileURL, "no_file", documents.KindNotFound, documents.ErrNotFound))
		return
	}
	expiresAt := time.Now().UTC().Add(h.signedURLTTL)
	signedURL, err := h.blobs.SignedURL(c.Request.Context(), bundle.Revision.FilePath, h.signedURLTTL)
	if err != nil {
		h.logger.Error("failed to sign file url", zap.String("path", bundle.Revision.FilePath), zap.Error(err))
		h.respondError(c, documents.NewError(opFileURL, "sign_failed", documents.KindStorageFailure, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":          signedURL,
		"file_name":    bundle.Revision.FileName,
		"expires_at_s": expiresAt.Unix(),
	})
}

func zipArtifacts(artifacts []integrity.Artifact) ([]byte, error) {
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for _, artifact := range artifacts {
		entry, err := writer.Create(artifact.Name)
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", artifact.Name, err)
		}
		if _, err := entry.Write(artifact.Content); err != nil {
			return nil, fmt.Errorf("write %s: %w", artifact.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func archiveName(record integrity.Record) string {
	return fmt.Sprintf("%s_rev%s.zip", record.DocNumber, record.RevisionLabel)
}

func writeAttachment(c *gin.Context, fileName, contentType string, content []byte) {
	if contentType == "" {
		contentType = contentTypeForName(fileName)
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	c.Data(http.StatusOK, contentType, content)
}

func contentTypeForName(name string) string {
	if detected := mime.TypeByExtension(path.Ext(name)); detected != "" {
		return detected
	}
	return contentTypeDefault
}
