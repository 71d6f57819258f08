package integrity

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/documents"
)

const (
	ArtifactStamped     = "stamped"
	ArtifactOriginal    = "original"
	ArtifactCertificate = "certificate"

	contentTypePDF    = "application/pdf"
	contentTypeBinary = "application/octet-stream"
)

// Artifact is one file handed to the requester.
type Artifact struct {
	Kind        string
	Name        string
	ContentType string
	Content     []byte
}

// PrepareDownload decides what an export contains. A PDF yields one stamped file, any other
// file yields the original bytes and a certificate, and a revision without a file yields the
// certificate alone.
func PrepareDownload(fileBytes []byte, fileName string, record Record) ([]Artifact, error) {
	certificateName := CertificateFileName(record.DocNumber, record.RevisionLabel)
	if len(fileBytes) == 0 {
		certificate, err := Certificate(record)
		if err != nil {
			return nil, fmt.Errorf("render certificate: %w", err)
		}
		return []Artifact{{Kind: ArtifactCertificate, Name: certificateName, ContentType: contentTypePDF, Content: certificate}}, nil
	}

	if documents.IsPDF(fileName) {
		stamped, err := Stamp(fileBytes, record)
		if err != nil {
			return nil, fmt.Errorf("stamp %s: %w", fileName, err)
		}
		return []Artifact{{Kind: ArtifactStamped, Name: fileName, ContentType: contentTypePDF, Content: stamped}}, nil
	}

	certificate, err := Certificate(record)
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return []Artifact{
		{Kind: ArtifactOriginal, Name: fileName, ContentType: contentTypeBinary, Content: fileBytes},
		{Kind: ArtifactCertificate, Name: certificateName, ContentType: contentTypePDF, Content: certificate},
	}, nil
}
