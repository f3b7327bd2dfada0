package intelligence

import (
	"math"
	"strings"
)

// ImportanceEvaluator estimates the importance of memory content when the
// caller does not supply an explicit score.
//
// The evaluation is purely heuristic: keyword matching, content length and
// metadata hints. It is deliberately cheap so it can run inline on every
// ingest without an extra network round trip. Callers that want better
// scores pass their own value and bypass the evaluator entirely.
//
// Example usage:
//
//	evaluator := NewImportanceEvaluator()
//	score := evaluator.Evaluate("Remember my birthday is March 15th", nil)
//	// score will be between 0.0 and 1.0
type ImportanceEvaluator struct {
	// keywords each add a fixed boost when present in the content.
	keywords []string
}

// NewImportanceEvaluator creates an evaluator with the default keyword set.
func NewImportanceEvaluator() *ImportanceEvaluator {
	return &ImportanceEvaluator{
		keywords: []string{
			"important", "critical", "urgent", "remember", "note",
			"preference", "like", "dislike", "hate", "love",
			"password", "secret", "private", "confidential",
		},
	}
}

// Evaluate scores content on a scale from 0.5 to 1.0, where:
//   - 1.0 = extremely important
//   - 0.5 = moderately important
//
// Content with no signals at all scores the 0.5 baseline; each heuristic
// signal only pushes the score upward, so the evaluator never demotes a
// memory below the default.
func (e *ImportanceEvaluator) Evaluate(content string, metadata map[string]interface{}) float64 {
	score := 0.5
	contentLower := strings.ToLower(content)

	// Length factor
	if len(content) > 100 {
		score += 0.1
	} else if len(content) > 50 {
		score += 0.05
	}

	// Keyword importance
	for _, keyword := range e.keywords {
		if strings.Contains(contentLower, keyword) {
			score += 0.1
		}
	}

	// Emphasis factors
	if strings.Contains(content, "?") {
		score += 0.05
	}
	if strings.Contains(content, "!") {
		score += 0.05
	}

	// Metadata factors
	if metadata != nil {
		if priority, ok := metadata["priority"].(string); ok {
			switch priority {
			case "high":
				score += 0.2
			case "medium":
				score += 0.1
			}
		}
	}

	return math.Min(score, 1.0)
}
