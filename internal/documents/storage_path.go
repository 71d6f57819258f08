package documents

import (
	"mime"
	"path"
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
)

const defaultExtension = "bin"

// StoragePath derives the blob path of a revision file from its owner, document number,
// revision label and file extension. The same inputs always map to the same path.
func StoragePath(ownerID, docNumber, revisionLabel, fileName string) string {
	return sanitizeSegment(ownerID) + "/" + sanitizeSegment(docNumber) + "/rev_" + sanitizeSegment(revisionLabel) + "." + FileExtension(fileName)
}

// FileExtension returns the lowercase extension of fileName without the dot.
func FileExtension(fileName string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	extension := strings.TrimPrefix(strings.ToLower(path.Ext(base)), ".")
	extension = sanitizeSegment(extension)
	if extension == "" || extension == "_" {
		return defaultExtension
	}
	return extension
}

// IsPDF reports whether fileName carries a pdf extension.
func IsPDF(fileName string) bool {
	return FileExtension(fileName) == "pdf"
}

func contentTypeFor(fileName, declared string) string {
	if trimmed := strings.TrimSpace(declared); trimmed != "" {
		return trimmed
	}
	if byExtension := mime.TypeByExtension("." + FileExtension(fileName)); byExtension != "" {
		return byExtension
	}
	return "application/octet-stream"
}

func sanitizeSegment(value string) string {
	ascii := textfold.ASCII(strings.TrimSpace(value))
	var builder strings.Builder
	builder.Grow(len(ascii))
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	sanitized := builder.String()
	if strings.Trim(sanitized, ".") == "" {
		return "_"
	}
	return sanitized
}
