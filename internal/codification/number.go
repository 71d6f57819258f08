// Package codification builds and parses canonical document and project numbers.
package codification

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	// Delimiter separates the parts of a document number.
	Delimiter = "-"
	// NoEmitter is the "no value" sentinel for emitter codes.
	NoEmitter = "ART"
	// NoUnit is the "no value" sentinel for unit codes.
	NoUnit = "000"
	// MaxSequence is the largest sequence that fits the four-digit field.
	MaxSequence = 9999
)

var (
	// ErrInvalidPart indicates that a document number part is malformed.
	ErrInvalidPart = errors.New("codification: invalid part")
	// ErrInvalidSequence indicates a sequence outside 1..MaxSequence.
	ErrInvalidSequence = errors.New("codification: invalid sequence")
	// ErrMalformedNumber indicates that a document number cannot be parsed.
	ErrMalformedNumber = errors.New("codification: malformed document number")
)

// Parts are the ordered components of a document number.
type Parts struct {
	Project    string
	Emitter    string
	Unit       string
	Discipline string
	Sequence   int
	Suffix     string
}

// Normalize trims every code and maps the "no value" sentinels to empty.
func (p Parts) Normalize() Parts {
	normalized := Parts{
		Project:    strings.TrimSpace(p.Project),
		Emitter:    strings.TrimSpace(p.Emitter),
		Unit:       strings.TrimSpace(p.Unit),
		Discipline: strings.TrimSpace(p.Discipline),
		Sequence:   p.Sequence,
		Suffix:     strings.TrimSpace(p.Suffix),
	}
	if strings.EqualFold(normalized.Emitter, NoEmitter) {
		normalized.Emitter = ""
	}
	if normalized.Unit == NoUnit {
		normalized.Unit = ""
	}
	return normalized
}

// Validate checks the parts that do not depend on sequence allocation.
func (p Parts) Validate() error {
	if err := validateCode("project", p.Project, true); err != nil {
		return err
	}
	if err := validateCode("discipline", p.Discipline, true); err != nil {
		return err
	}
	if !containsLetter(p.Discipline) {
		return fmt.Errorf("%w: discipline %q must contain a letter", ErrInvalidPart, p.Discipline)
	}
	if p.Emitter != "" {
		if err := validateCode("emitter", p.Emitter, false); err != nil {
			return err
		}
		if !containsLetter(p.Emitter) {
			return fmt.Errorf("%w: emitter %q must contain a letter", ErrInvalidPart, p.Emitter)
		}
	}
	if p.Unit != "" {
		if err := validateCode("unit", p.Unit, false); err != nil {
			return err
		}
		if !allDigits(p.Unit) {
			return fmt.Errorf("%w: unit %q must be numeric", ErrInvalidPart, p.Unit)
		}
	}
	if p.Suffix != "" {
		if err := validateCode("suffix", p.Suffix, false); err != nil {
			return err
		}
	}
	return nil
}

// Prefix returns the scope used for sequence allocation.
func (p Parts) Prefix() string {
	return p.Project + Delimiter + p.Discipline
}

// BuildDocumentNumber composes PROJECT[-EMITTER][-UNIT]-DISCIPLINE-SEQ4[-SUFFIX].
func BuildDocumentNumber(parts Parts) (string, error) {
	normalized := parts.Normalize()
	if err := normalized.Validate(); err != nil {
		return "", err
	}
	if normalized.Sequence < 1 || normalized.Sequence > MaxSequence {
		return "", fmt.Errorf("%w: %d", ErrInvalidSequence, normalized.Sequence)
	}

	segments := make([]string, 0, 6)
	segments = append(segments, normalized.Project)
	if normalized.Emitter != "" {
		segments = append(segments, normalized.Emitter)
	}
	if normalized.Unit != "" {
		segments = append(segments, normalized.Unit)
	}
	segments = append(segments, normalized.Discipline, FormatSequence(normalized.Sequence))
	if normalized.Suffix != "" {
		segments = append(segments, normalized.Suffix)
	}
	return strings.Join(segments, Delimiter), nil
}

// FormatSequence renders a sequence as the zero-padded four-digit field.
func FormatSequence(sequence int) string {
	return fmt.Sprintf("%04d", sequence)
}

// ParseDocumentNumber splits a document number back into its parts.
// Disciplines always carry a letter, so a numeric penultimate segment marks a suffix.
func ParseDocumentNumber(raw string) (Parts, error) {
	value := strings.TrimSpace(raw)
	segments := strings.Split(value, Delimiter)
	if len(segments) < 3 || len(segments) > 6 {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformedNumber, raw)
	}

	sequenceIndex := len(segments) - 1
	if allDigits(segments[len(segments)-2]) {
		sequenceIndex = len(segments) - 2
	}
	if sequenceIndex < 2 {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformedNumber, raw)
	}

	sequenceText := segments[sequenceIndex]
	if len(sequenceText) != 4 || !allDigits(sequenceText) {
		return Parts{}, fmt.Errorf("%w: sequence %q", ErrMalformedNumber, sequenceText)
	}
	sequence, err := strconv.Atoi(sequenceText)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: sequence %q", ErrMalformedNumber, sequenceText)
	}

	parts := Parts{
		Project:    segments[0],
		Discipline: segments[sequenceIndex-1],
		Sequence:   sequence,
	}
	if sequenceIndex < len(segments)-1 {
		parts.Suffix = segments[len(segments)-1]
	}

	middle := segments[1 : sequenceIndex-1]
	switch len(middle) {
	case 0:
	case 1:
		if allDigits(middle[0]) {
			parts.Unit = middle[0]
		} else {
			parts.Emitter = middle[0]
		}
	case 2:
		parts.Emitter = middle[0]
		parts.Unit = middle[1]
	default:
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformedNumber, raw)
	}

	if err := parts.Validate(); err != nil {
		return Parts{}, fmt.Errorf("%w: %v", ErrMalformedNumber, err)
	}
	if sequence < 1 {
		return Parts{}, fmt.Errorf("%w: %d", ErrInvalidSequence, sequence)
	}
	return parts, nil
}

// NextSequence returns max(existing)+1, or 1 when nothing exists yet.
func NextSequence(existing []int) int {
	highest := 0
	for _, value := range existing {
		if value > highest {
			highest = value
		}
	}
	return highest + 1
}

func validateCode(name, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalidPart, name)
		}
		return nil
	}
	if strings.Contains(value, Delimiter) {
		return fmt.Errorf("%w: %s %q contains %q", ErrInvalidPart, name, value, Delimiter)
	}
	for _, r := range value {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: %s %q contains whitespace", ErrInvalidPart, name, value)
		}
	}
	return nil
}

func containsLetter(value string) bool {
	for _, r := range value {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
