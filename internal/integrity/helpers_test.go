package integrity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	"github.com/stretchr/testify/require"
)

var exportTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for page := 1; page <= pages; page++ {
		pdf.AddPage()
		pdf.Text(72, 72, fmt.Sprintf("Loop diagram page %d", page))
	}
	var buffer bytes.Buffer
	require.NoError(t, pdf.Output(&buffer))
	return buffer.Bytes()
}

func pageCount(t *testing.T, data []byte) int {
	t.Helper()
	importer := gofpdi.NewImporter()
	var reader io.ReadSeeker = bytes.NewReader(data)
	importer.ImportPageFromStream(fpdf.New("P", "pt", "A4", ""), &reader, 1, mediaBox)
	return len(importer.GetPageSizes())
}

func sampleBundle() documents.Bundle {
	return documents.Bundle{
		Document: documents.Document{DocumentID: "doc-1", DocNumber: "HT001-INS-0001", Title: "Loop diagram FT-001"},
		Revision: documents.Revision{
			RevisionID:   "rev-1",
			DocumentID:   "doc-1",
			Label:        "A",
			Status:       documents.StatusForReview,
			Redacteur:    "Jean Dupont",
			Verificateur: "Hélène Dupré",
			FileName:     "loop.pdf",
			FileSize:     2048,
		},
		Signatures: []documents.Signature{{
			RevisionID:      "rev-1",
			Role:            documents.RoleRedacteur,
			UserID:          "0190c7a2-1b2c-7d3e-9f40-a1b2c3d4e5f6",
			FullName:        "Jean Dupont",
			SignedAtSeconds: time.Date(2026, 5, 3, 8, 0, 0, 0, time.UTC).Unix(),
		}},
	}
}

type staticBundles map[string]documents.Bundle

func (s staticBundles) RevisionBundle(_ context.Context, revisionID string) (documents.Bundle, error) {
	bundle, ok := s[revisionID]
	if !ok {
		return documents.Bundle{}, documents.NewError("test.revision_bundle", "not_found", documents.KindNotFound, nil)
	}
	return bundle, nil
}
