package integrity

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
	"github.com/dustin/go-humanize"
	"github.com/go-pdf/fpdf"
)

const certificateSuffix = "_CERTIFICAT.pdf"

// CertificateFileName names the certificate of a revision.
func CertificateFileName(docNumber, revisionLabel string) string {
	return textfold.ASCII(fmt.Sprintf("%s_rev%s", docNumber, revisionLabel)) + certificateSuffix
}

// Certificate renders a one-page A4 certificate summarizing record.
func Certificate(record Record) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(true)
	pdf.SetCreationDate(record.ExportedAt)
	pdf.SetModificationDate(record.ExportedAt)
	pdf.SetTitle(ascii("Certificat "+record.DocNumber), false)
	pdf.SetMargins(48, 48, 48)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()
	contentWidth := pageWidth - 96

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(contentWidth, 28, "CERTIFICAT D'INTEGRITE", "", 1, "C", false, 0, "")
	pdf.Ln(12)

	field := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(130, 16, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(contentWidth-130, 16, ascii(value), "", "L", false)
	}
	field("Document", record.DocNumber)
	field("Titre", record.Title)
	field("Revision", record.RevisionLabel)
	field("Statut", record.Status.Label())
	if record.FileName != "" {
		field("Fichier", fmt.Sprintf("%s (%s)", record.FileName, humanize.IBytes(uint64(max(record.FileSize, 0)))))
	} else {
		field("Fichier", "aucun fichier")
	}
	field("Exporte le", record.ExportedAt.Format(timestampLayout))
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(contentWidth, 16, "Empreinte SHA-256", "", 1, "L", false, 0, "")
	pdf.SetFont("Courier", "", 9)
	pdf.CellFormat(contentWidth, 16, record.hashLine(), "", 1, "L", false, 0, "")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(contentWidth, 16, "Circuit de signature", "", 1, "L", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 10)
	for _, status := range record.Roles {
		x, y := pdf.GetXY()
		drawIndicator(pdf, status.State, x+indicatorRadius+1, y+8)
		pdf.SetXY(x+indicatorRadius*2+8, y)
		pdf.CellFormat(contentWidth-indicatorRadius*2-8, 16, roleLine(status), "", 1, "L", false, 0, "")
	}
	pdf.Ln(16)

	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(90, 90, 90)
	verdict := "Circuit de signature incomplet a la date d'export."
	if record.FullyApproved() {
		verdict = "Tous les roles prevus ont signe cette revision."
	}
	pdf.MultiCell(contentWidth, 12, verdict, "", "L", false)

	return output(pdf)
}
