package normalize

import (
	"regexp"
	"strings"
)

// SignalScorer is the default engagement estimator: a bounded weighted sum
// over cheap content signals. The caller clips the result to [0, 10].
type SignalScorer struct {
	Base float64

	QuestionWeight float64
	MetricWeight   float64
	SequenceWeight float64

	DomainTerms      []string
	DomainTermWeight float64

	TagWeight float64
	TagCap    float64
}

var metricPattern = regexp.MustCompile(`\d+%|\d+k|\d+ (streams|followers|plays)`)

func NewSignalScorer() *SignalScorer {
	return &SignalScorer{
		Base:             5.0,
		QuestionWeight:   0.5,
		MetricWeight:     1.0,
		SequenceWeight:   0.3,
		DomainTerms:      []string{"playlist", "radio", "promotion", "marketing", "indie", "artist"},
		DomainTermWeight: 0.2,
		TagWeight:        0.1,
		TagCap:           0.4,
	}
}

func (s *SignalScorer) Score(content string, tags []string) float64 {
	score := s.Base
	lower := strings.ToLower(content)

	// Questions drive engagement.
	if strings.Contains(content, "?") {
		score += s.QuestionWeight
	}
	// Concrete numbers/metrics.
	if metricPattern.MatchString(lower) {
		score += s.MetricWeight
	}
	// Announcing a multi-part sequence.
	if strings.Contains(lower, "thread") {
		score += s.SequenceWeight
	}

	for _, term := range s.DomainTerms {
		if strings.Contains(lower, term) {
			score += s.DomainTermWeight
		}
	}

	tagBoost := float64(len(tags)) * s.TagWeight
	if tagBoost > s.TagCap {
		tagBoost = s.TagCap
	}
	score += tagBoost

	return score
}
