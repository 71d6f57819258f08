package codification

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ProjectNumberLength is the fixed width of a project number.
const ProjectNumberLength = 6

// ErrInvalidProjectNumber indicates a malformed project number or component.
var ErrInvalidProjectNumber = errors.New("codification: invalid project number")

// ProjectCode holds the position-addressed fields of a project number.
type ProjectCode struct {
	Centre     string
	Distinctif string
	Annee      string
	Ordre      int
}

// BuildProjectNumber concatenates CENTRE(1)+DISTINCTIF(1)+ANNEE(1)+ORDRE(3) with no separators.
func BuildProjectNumber(code ProjectCode) (string, error) {
	for name, value := range map[string]string{"centre": code.Centre, "distinctif": code.Distinctif, "annee": code.Annee} {
		if len(value) != 1 || value == Delimiter || value == " " {
			return "", fmt.Errorf("%w: %s must be a single ASCII character, got %q", ErrInvalidProjectNumber, name, value)
		}
	}
	if code.Ordre < 0 || code.Ordre > 999 {
		return "", fmt.Errorf("%w: ordre %d out of range", ErrInvalidProjectNumber, code.Ordre)
	}
	return fmt.Sprintf("%s%s%s%03d", code.Centre, code.Distinctif, code.Annee, code.Ordre), nil
}

// ParseProjectNumber reads the fields back by position.
func ParseProjectNumber(value string) (ProjectCode, error) {
	if len(value) != ProjectNumberLength || utf8.RuneCountInString(value) != ProjectNumberLength {
		return ProjectCode{}, fmt.Errorf("%w: %q", ErrInvalidProjectNumber, value)
	}
	ordreText := value[3:6]
	if !allDigits(ordreText) {
		return ProjectCode{}, fmt.Errorf("%w: ordre %q", ErrInvalidProjectNumber, ordreText)
	}
	ordre, err := strconv.Atoi(ordreText)
	if err != nil {
		return ProjectCode{}, fmt.Errorf("%w: ordre %q", ErrInvalidProjectNumber, ordreText)
	}
	return ProjectCode{
		Centre:     value[0:1],
		Distinctif: value[1:2],
		Annee:      value[2:3],
		Ordre:      ordre,
	}, nil
}
