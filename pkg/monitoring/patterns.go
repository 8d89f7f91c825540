package monitoring

import (
	"regexp"
	"sort"
	"sync"
)

// Pattern is an adaptive error pattern: a regex over error messages bound
// to a suggested recovery strategy. Its success rate is an EWMA updated
// from observed outcomes, so patterns that stop working fade out of the
// ranking.
type Pattern struct {
	ID          string            `json:"id"`
	Regex       string            `json:"regex"`
	Strategy    string            `json:"strategy"`
	Params      map[string]string `json:"params,omitempty"`
	Confidence  float64           `json:"confidence"`
	SuccessRate float64           `json:"success_rate"`
	UsageCount  int64             `json:"usage_count"`

	compiled *regexp.Regexp
}

// Suggestion is a ranked pattern match for an error message.
type Suggestion struct {
	PatternID string            `json:"pattern_id"`
	Strategy  string            `json:"strategy"`
	Params    map[string]string `json:"params,omitempty"`
	Score     float64           `json:"score"`
}

// PatternMatcher holds the adaptive patterns and ranks matches.
type PatternMatcher struct {
	mu            sync.RWMutex
	patterns      map[string]*Pattern
	minConfidence float64
	learningRate  float64
}

// NewPatternMatcher creates a matcher with the given thresholds.
func NewPatternMatcher(minConfidence, learningRate float64) *PatternMatcher {
	return &PatternMatcher{
		patterns:      make(map[string]*Pattern),
		minConfidence: minConfidence,
		learningRate:  learningRate,
	}
}

// Register adds or replaces a pattern. Invalid regexes are rejected.
func (m *PatternMatcher) Register(p *Pattern) error {
	compiled, err := regexp.Compile(p.Regex)
	if err != nil {
		return err
	}
	p.compiled = compiled
	if p.SuccessRate == 0 {
		p.SuccessRate = 0.5 // neutral prior until outcomes arrive
	}

	m.mu.Lock()
	m.patterns[p.ID] = p
	m.mu.Unlock()
	return nil
}

// Suggest returns matching patterns ranked by confidence x success rate,
// dropping anything below the confidence threshold.
func (m *PatternMatcher) Suggest(message string) []Suggestion {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Suggestion
	for _, p := range m.patterns {
		if p.Confidence < m.minConfidence {
			continue
		}
		if !p.compiled.MatchString(message) {
			continue
		}
		out = append(out, Suggestion{
			PatternID: p.ID,
			Strategy:  p.Strategy,
			Params:    p.Params,
			Score:     p.Confidence * p.SuccessRate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}

// ObserveOutcome updates a pattern's success EWMA after its suggested
// strategy ran.
func (m *PatternMatcher) ObserveOutcome(patternID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patterns[patternID]
	if !ok {
		return
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.SuccessRate = p.SuccessRate*(1-m.learningRate) + outcome*m.learningRate
	p.UsageCount++
}

// Patterns returns a copy of the registered patterns.
func (m *PatternMatcher) Patterns() []Pattern {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
