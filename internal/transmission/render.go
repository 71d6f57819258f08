package transmission

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/digest"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
	"github.com/go-pdf/fpdf"
)

const (
	pageMargin   = 36.0
	rowHeight    = 18.0
	headerHeight = 20.0
	noteHeight   = 12.0
	maxNoteLines = 12
	titleChars   = 48
	hashChars    = 20
)

type column struct {
	title string
	width float64
	align string
}

var columns = []column{
	{title: "N. document", width: 130, align: "L"},
	{title: "Titre", width: 200, align: "L"},
	{title: "Disc.", width: 45, align: "C"},
	{title: "Rev.", width: 40, align: "C"},
	{title: "Statut", width: 95, align: "L"},
	{title: "Signatures", width: 110, align: "C"},
	{title: "Empreinte SHA-256", width: 150, align: "L"},
}

// FileName names the rendered PDF of a bordereau.
func FileName(bordereau Bordereau) string {
	return bordereau.Number + ".pdf"
}

// PageCount reports how many pages Render produces for the bordereau.
func PageCount(bordereau Bordereau) int {
	return layout(bordereau).pdf.PageNo()
}

// Render lays out a bordereau as a landscape A4 table. The header block opens the first page and
// the column header is repeated on every page.
func Render(bordereau Bordereau) ([]byte, error) {
	pdf := layout(bordereau).pdf
	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

type pageLayout struct {
	pdf *fpdf.Fpdf
	// rowPages holds the page of every line, in order.
	rowPages []int
	// lowestRowY is the bottom edge of the lowest row drawn.
	lowestRowY float64
}

// layout draws the bordereau and starts a new page whenever the next row would cross the bottom
// margin, so the header block height decides how many rows the first page holds.
func layout(bordereau Bordereau) pageLayout {
	emittedAt := time.Unix(bordereau.EmittedAtSeconds, 0).UTC()

	pdf := fpdf.New("L", "pt", "A4", "")
	pdf.SetCompression(true)
	pdf.SetCreationDate(emittedAt)
	pdf.SetModificationDate(emittedAt)
	pdf.SetTitle(ascii("Bordereau "+bordereau.Number), false)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AliasNbPages("{nb}")
	pdf.SetFooterFunc(func() {
		_, pageHeight := pdf.GetPageSize()
		pdf.SetXY(pageMargin, pageHeight-pageMargin+8)
		pdf.SetFont("Helvetica", "", 7)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 10, fmt.Sprintf("%s  -  page %d/{nb}", bordereau.Number, pdf.PageNo()), "", 0, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	_, pageHeight := pdf.GetPageSize()
	bottom := pageHeight - pageMargin
	result := pageLayout{pdf: pdf, rowPages: make([]int, 0, len(bordereau.Lines))}

	pdf.AddPage()
	drawHeaderBlock(pdf, bordereau, emittedAt)
	if len(bordereau.Lines) > 0 && pdf.GetY()+headerHeight+rowHeight > bottom {
		pdf.AddPage()
	}
	drawColumnHeader(pdf)
	pageRow := 0
	for _, line := range bordereau.Lines {
		if pdf.GetY()+rowHeight > bottom {
			pdf.AddPage()
			drawColumnHeader(pdf)
			pageRow = 0
		}
		drawLine(pdf, line, pageRow%2 == 1)
		pageRow++
		result.rowPages = append(result.rowPages, pdf.PageNo())
		if y := pdf.GetY(); y > result.lowestRowY {
			result.lowestRowY = y
		}
	}
	return result
}

func drawHeaderBlock(pdf *fpdf.Fpdf, bordereau Bordereau, emittedAt time.Time) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 24, "BORDEREAU DE TRANSMISSION "+ascii(bordereau.Number), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)

	pdf.CellFormat(380, 14, "Date d'emission: "+emittedAt.Format("2006-01-02 15:04 UTC"), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 14, "Documents: "+fmt.Sprint(len(bordereau.Lines)), "", 1, "L", false, 0, "")
	pdf.CellFormat(380, 14, "Emetteur: "+identity(bordereau.SenderName, bordereau.SenderEmail), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 14, "Destinataire: "+identity(bordereau.RecipientName, bordereau.RecipientEmail), "", 1, "L", false, 0, "")
	for _, line := range noteLines(pdf, bordereau.Note) {
		pdf.CellFormat(0, noteHeight, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(10)
}

// noteLines wraps the note to the printable width and keeps at most maxNoteLines lines.
func noteLines(pdf *fpdf.Fpdf, note string) []string {
	note = strings.Join(strings.Fields(ascii(note)), " ")
	if note == "" {
		return nil
	}
	pageWidth, _ := pdf.GetPageSize()
	lines := pdf.SplitText("Note: "+note, pageWidth-2*pageMargin)
	if len(lines) > maxNoteLines {
		lines = lines[:maxNoteLines]
		lines[maxNoteLines-1] = strings.TrimRight(lines[maxNoteLines-1], " ") + "..."
	}
	return lines
}

func drawColumnHeader(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(225, 230, 238)
	for _, col := range columns {
		pdf.CellFormat(col.width, headerHeight, col.title, "1", 0, col.align, true, 0, "")
	}
	pdf.Ln(-1)
}

func drawLine(pdf *fpdf.Fpdf, line BordereauLine, shaded bool) {
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetFillColor(246, 247, 250)
	values := []string{
		ascii(line.DocNumber),
		truncate(ascii(line.DocTitle), titleChars),
		ascii(line.DisciplineCode),
		ascii(line.Revision),
		ascii(line.Status.Label()),
		SignerSummary(line),
		truncate(digest.Display(line.FileHash), hashChars),
	}
	for index, col := range columns {
		pdf.CellFormat(col.width, rowHeight, values[index], "1", 0, col.align, shaded, 0, "")
	}
	pdf.Ln(-1)
}

func identity(name, email string) string {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	switch {
	case name != "" && email != "":
		return ascii(fmt.Sprintf("%s <%s>", name, email))
	case name != "":
		return ascii(name)
	default:
		return ascii(email)
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func ascii(value string) string {
	return textfold.ASCII(value)
}
