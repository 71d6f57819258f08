package transmission

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderedPages(t *testing.T, data []byte) int {
	t.Helper()
	importer := gofpdi.NewImporter()
	var reader io.ReadSeeker = bytes.NewReader(data)
	importer.ImportPageFromStream(fpdf.New("L", "pt", "A4", ""), &reader, 1, "/MediaBox")
	return len(importer.GetPageSizes())
}

func bordereauWithLines(count int) Bordereau {
	bordereau := Bordereau{
		Number:           "BT-2026-003",
		EmittedAtSeconds: time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC).Unix(),
		SenderName:       "Jean Dupont",
		SenderEmail:      "jean@example.com",
		RecipientName:    "Bureau d'études Hélios",
		Note:             "Transmis pour approbation — merci de retourner vos observations.",
	}
	for index := 0; index < count; index++ {
		bordereau.Lines = append(bordereau.Lines, BordereauLine{
			Position:       index + 1,
			DocNumber:      fmt.Sprintf("HT001-INS-%04d", index+1),
			DocTitle:       "Schéma de boucle pour le transmetteur de débit FT-001 avec une description très longue",
			DisciplineCode: "INS",
			Revision:       "A",
			Status:         documents.StatusForReview,
			FileHash:       "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			Redacteur:      "Jean Dupont",
		})
	}
	return bordereau
}

func rowsOnPage(l pageLayout, page int) int {
	count := 0
	for _, rowPage := range l.rowPages {
		if rowPage == page {
			count++
		}
	}
	return count
}

func withNote(bordereau Bordereau, note string) Bordereau {
	bordereau.Note = note
	return bordereau
}

func TestPageCountFollowsLayout(t *testing.T) {
	full := layout(bordereauWithLines(80))
	first := rowsOnPage(full, 1)
	continuation := rowsOnPage(full, 2)
	require.Positive(t, first)
	require.Greater(t, continuation, first)

	assert.Equal(t, 1, PageCount(bordereauWithLines(0)))
	assert.Equal(t, 1, PageCount(bordereauWithLines(first)))
	assert.Equal(t, 2, PageCount(bordereauWithLines(first+1)))
	assert.Equal(t, 2, PageCount(bordereauWithLines(first+continuation)))
	assert.Equal(t, 3, PageCount(bordereauWithLines(first+continuation+1)))
}

func TestRenderPaginates(t *testing.T) {
	for _, lines := range []int{1, 30, 60} {
		bordereau := bordereauWithLines(lines)
		data, err := Render(bordereau)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
		assert.Equal(t, PageCount(bordereau), renderedPages(t, data), "lines=%d", lines)
	}
}

func TestLongNoteKeepsEveryRowOnThePage(t *testing.T) {
	for _, repeat := range []int{360, 2000} {
		bordereau := withNote(bordereauWithLines(14), strings.Repeat("Observation ", repeat))
		placed := layout(bordereau)
		_, pageHeight := placed.pdf.GetPageSize()

		assert.Len(t, placed.rowPages, 14, "repeat=%d", repeat)
		assert.LessOrEqual(t, placed.lowestRowY, pageHeight-pageMargin, "repeat=%d", repeat)

		data, err := Render(bordereau)
		require.NoError(t, err)
		assert.Equal(t, PageCount(bordereau), renderedPages(t, data), "repeat=%d", repeat)
	}
}

func TestLongNoteShrinksFirstPage(t *testing.T) {
	short := layout(bordereauWithLines(80))
	long := layout(withNote(bordereauWithLines(80), strings.Repeat("Observation ", 360)))

	assert.Less(t, rowsOnPage(long, 1), rowsOnPage(short, 1))
	assert.Equal(t, rowsOnPage(short, 2), rowsOnPage(long, 2))
}

func TestNoteLinesAreCapped(t *testing.T) {
	pdf := fpdf.New("L", "pt", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 9)

	assert.Empty(t, noteLines(pdf, "   "))
	assert.Equal(t, []string{"Note: Pour avis"}, noteLines(pdf, "Pour\n avis"))

	lines := noteLines(pdf, strings.Repeat("Observation ", 2000))
	require.Len(t, lines, maxNoteLines)
	assert.True(t, strings.HasSuffix(lines[maxNoteLines-1], "..."))
}

func TestTruncateKeepsLimit(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BT-2026-003.pdf", FileName(Bordereau{Number: "BT-2026-003"}))
}
