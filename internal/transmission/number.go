package transmission

import (
	"fmt"
	"regexp"
	"strconv"
)

const numberPrefix = "BT"

var numberPattern = regexp.MustCompile(`^BT-(\d{4})-(\d{3,})$`)

// FormatNumber renders a bordereau number, BT-{year}-{sequence:03}.
func FormatNumber(year, sequence int) string {
	return fmt.Sprintf("%s-%04d-%03d", numberPrefix, year, sequence)
}

// ParseNumber splits a bordereau number into year and sequence.
func ParseNumber(number string) (int, int, error) {
	match := numberPattern.FindStringSubmatch(number)
	if match == nil {
		return 0, 0, fmt.Errorf("malformed bordereau number %q", number)
	}
	year, _ := strconv.Atoi(match[1])
	sequence, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed bordereau sequence %q: %w", number, err)
	}
	return year, sequence, nil
}

// nextSequence follows the count+1 rule but never falls below a sequence already issued in the year.
func nextSequence(totalCount int64, maxInYear int) int {
	candidate := int(totalCount) + 1
	if maxInYear+1 > candidate {
		candidate = maxInYear + 1
	}
	return candidate
}
