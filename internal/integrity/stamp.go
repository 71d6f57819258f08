package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
)

const (
	mediaBox    = "/MediaBox"
	stampMargin = 18.0
)

// ErrInvalidPDF indicates the source bytes could not be parsed as a PDF.
var ErrInvalidPDF = errors.New("integrity: invalid pdf")

// Stamp returns a copy of the PDF in source with the authenticity block drawn on its first page.
// Every page of the source is carried over at its original size.
func Stamp(source []byte, record Record) (stamped []byte, err error) {
	if !bytes.HasPrefix(source, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidPDF)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			stamped = nil
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, recovered)
		}
	}()

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(true)
	pdf.SetCreationDate(record.ExportedAt)
	pdf.SetModificationDate(record.ExportedAt)
	pdf.SetAutoPageBreak(false, 0)

	importer := gofpdi.NewImporter()
	var reader io.ReadSeeker = bytes.NewReader(source)

	template := importer.ImportPageFromStream(pdf, &reader, 1, mediaBox)
	sizes := importer.GetPageSizes()
	if len(sizes) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	for pageNumber := 1; pageNumber <= len(sizes); pageNumber++ {
		box, ok := sizes[pageNumber][mediaBox]
		if !ok {
			return nil, fmt.Errorf("%w: page %d has no media box", ErrInvalidPDF, pageNumber)
		}
		width, height := box["w"], box["h"]
		if pageNumber > 1 {
			template = importer.ImportPageFromStream(pdf, &reader, pageNumber, mediaBox)
		}
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: width, Ht: height})
		importer.UseImportedTemplate(pdf, template, 0, 0, width, height)
		if pageNumber == 1 {
			x, y, blockW := stampPlacement(width, height, record)
			drawAuthenticityBlock(pdf, record, x, y, blockW)
		}
	}

	return output(pdf)
}

// stampPlacement anchors the block in the bottom-left corner and narrows it on pages smaller
// than the block.
func stampPlacement(pageWidth, pageHeight float64, record Record) (x, y, width float64) {
	width = blockWidth
	if available := pageWidth - 2*stampMargin; available < width {
		width = available
	}
	return stampMargin, pageHeight - stampMargin - blockHeight(record), width
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buffer bytes.Buffer
	if err := pdf.Output(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
