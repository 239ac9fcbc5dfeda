package model

import (
	"fmt"
	"sort"
)

// MatchOutcome is the result of evaluating one rule against one transaction.
type MatchOutcome struct {
	Reason     string
	RuleID     int64
	Confidence float64 // Normalized into [0,1]
	Weight     float64 // Raw confidence weight of the rule
	Matched    bool
}

// NoMatch returns a failed outcome for the given rule.
func NoMatch(ruleID int64) MatchOutcome {
	return MatchOutcome{RuleID: ruleID}
}

// Suggestion represents how likely a transaction belongs to a category.
type Suggestion struct {
	Category   string
	Reason     string
	CategoryID int64
	RuleID     int64
	Confidence float64
	Score      float64
	Weight     float64
}

// Validate ensures the Suggestion has valid data.
func (s *Suggestion) Validate() error {
	if s.CategoryID <= 0 {
		return fmt.Errorf("category id is required")
	}

	if s.Confidence < 0.0 || s.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %.2f", s.Confidence)
	}

	if s.Score < 0.0 || s.Score > 1.0 {
		return fmt.Errorf("score must be between 0.0 and 1.0, got %.2f", s.Score)
	}

	return nil
}

// Suggestions is a slice of Suggestion that supports deterministic ordering.
type Suggestions []Suggestion

// Len implements sort.Interface.
func (s Suggestions) Len() int {
	return len(s)
}

// Less implements sort.Interface: higher score first, then higher raw
// weight, then lower rule id.
func (s Suggestions) Less(i, j int) bool {
	if s[i].Score != s[j].Score {
		return s[i].Score > s[j].Score
	}
	if s[i].Weight != s[j].Weight {
		return s[i].Weight > s[j].Weight
	}
	return s[i].RuleID < s[j].RuleID
}

// Swap implements sort.Interface.
func (s Suggestions) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Sort sorts the suggestions in ranking order.
func (s Suggestions) Sort() {
	sort.Sort(s)
}

// Top returns the best suggestion, or nil if empty.
func (s Suggestions) Top() *Suggestion {
	if len(s) == 0 {
		return nil
	}
	s.Sort()
	return &s[0]
}

// TopN returns the N best suggestions.
func (s Suggestions) TopN(n int) Suggestions {
	if n <= 0 {
		return Suggestions{}
	}

	s.Sort()

	if n > len(s) {
		n = len(s)
	}

	result := make(Suggestions, n)
	copy(result, s[:n])
	return result
}

// AboveThreshold returns all suggestions scoring at least threshold.
func (s Suggestions) AboveThreshold(threshold float64) Suggestions {
	s.Sort()

	var result Suggestions
	for _, suggestion := range s {
		if suggestion.Score >= threshold {
			result = append(result, suggestion)
		}
	}
	return result
}

// Validate ensures all suggestions are valid and no category repeats.
func (s Suggestions) Validate() error {
	seen := make(map[int64]bool)

	for i, suggestion := range s {
		if err := suggestion.Validate(); err != nil {
			return fmt.Errorf("invalid suggestion at index %d: %w", i, err)
		}

		if seen[suggestion.CategoryID] {
			return fmt.Errorf("duplicate category %d in suggestions", suggestion.CategoryID)
		}
		seen[suggestion.CategoryID] = true
	}

	return nil
}
