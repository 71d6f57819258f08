// Package similarity scores title overlap to warn about probable duplicate documents.
package similarity

import (
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/textfold"
)

const (
	// Threshold is the minimum score reported as a probable duplicate.
	Threshold = 0.35
	// MaxMatches caps the number of reported matches.
	MaxMatches = 3
	minTokenLength = 3
)

// Candidate is an existing document considered for comparison.
type Candidate struct {
	DocumentID string
	DocNumber  string
	Discipline string
	Title      string
}

// Match is a candidate whose score reached the threshold.
type Match struct {
	Candidate
	Score float64
}

// Tokens returns the set of significant tokens of a title.
func Tokens(title string) map[string]struct{} {
	folded := textfold.Fold(title)
	var builder strings.Builder
	builder.Grow(len(folded))
	for _, r := range folded {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune(' ')
	}
	tokens := make(map[string]struct{})
	for _, token := range strings.Fields(builder.String()) {
		if len(token) < minTokenLength {
			continue
		}
		tokens[token] = struct{}{}
	}
	return tokens
}

// Jaccard returns |A∩B| / |A∪B| over the token sets of two titles.
func Jaccard(left, right string) float64 {
	return jaccardSets(Tokens(left), Tokens(right))
}

func jaccardSets(left, right map[string]struct{}) float64 {
	if len(left) == 0 && len(right) == 0 {
		return 0
	}
	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// FindSimilar scores title against candidates of the same discipline and returns the
// best matches at or above Threshold, highest first, ties kept in candidate order.
func FindSimilar(title, discipline string, candidates []Candidate) []Match {
	reference := Tokens(title)
	if len(reference) == 0 {
		return nil
	}
	matches := make([]Match, 0)
	for _, candidate := range candidates {
		if !strings.EqualFold(strings.TrimSpace(candidate.Discipline), strings.TrimSpace(discipline)) {
			continue
		}
		score := jaccardSets(reference, Tokens(candidate.Title))
		if score < Threshold {
			continue
		}
		matches = append(matches, Match{Candidate: candidate, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return matches
}
