package integrity

import (
	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
	"github.com/go-pdf/fpdf"
)

type rgb struct{ r, g, b int }

var (
	colorSigned    = rgb{46, 160, 67}
	colorPending   = rgb{230, 159, 0}
	colorUnplanned = rgb{170, 170, 170}
	colorFrame     = rgb{40, 40, 40}
)

const (
	blockWidth      = 320.0
	blockPadding    = 6.0
	blockLineHeight = 10.0
	indicatorRadius = 3.0
)

func blockHeight(record Record) float64 {
	return blockPadding*2 + blockLineHeight*float64(4+len(record.Roles))
}

// drawAuthenticityBlock renders the summary box with its top-left corner at (x, y). Text that
// does not fit width is clipped at the frame.
func drawAuthenticityBlock(pdf *fpdf.Fpdf, record Record, x, y, width float64) {
	height := blockHeight(record)
	pdf.SetLineWidth(0.6)
	pdf.SetDrawColor(colorFrame.r, colorFrame.g, colorFrame.b)
	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(x, y, width, height, "FD")
	pdf.ClipRect(x, y, width, height, false)
	defer pdf.ClipEnd()

	textX := x + blockPadding
	baseline := y + blockPadding + blockLineHeight - 2
	pdf.SetTextColor(0, 0, 0)

	pdf.SetFont("Helvetica", "B", 8)
	pdf.Text(textX, baseline, "KORE - DOCUMENT AUTHENTIFIE")
	baseline += blockLineHeight

	pdf.SetFont("Helvetica", "", 7)
	pdf.Text(textX, baseline, record.headline())
	baseline += blockLineHeight
	pdf.Text(textX, baseline, record.exportLine())
	baseline += blockLineHeight

	pdf.SetFont("Courier", "", 6.5)
	pdf.Text(textX, baseline, record.hashLine())
	baseline += blockLineHeight

	pdf.SetFont("Helvetica", "", 7)
	for _, status := range record.Roles {
		drawIndicator(pdf, status.State, textX+indicatorRadius, baseline-indicatorRadius)
		pdf.Text(textX+indicatorRadius*2+4, baseline, roleLine(status))
		baseline += blockLineHeight
	}
}

func drawIndicator(pdf *fpdf.Fpdf, state documents.RoleState, cx, cy float64) {
	color := colorUnplanned
	style := "D"
	switch state {
	case documents.RoleStateSigned:
		color, style = colorSigned, "F"
	case documents.RoleStatePending:
		color, style = colorPending, "F"
	}
	pdf.SetFillColor(color.r, color.g, color.b)
	pdf.SetDrawColor(color.r, color.g, color.b)
	pdf.Circle(cx, cy, indicatorRadius, style)
}
