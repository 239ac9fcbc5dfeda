package model

import (
	"testing"
)

func TestSuggestion_Validate(t *testing.T) {
	tests := []struct {
		name       string
		errMsg     string
		suggestion Suggestion
		wantErr    bool
	}{
		{
			name:       "valid suggestion",
			suggestion: Suggestion{CategoryID: 1, Confidence: 0.85, Score: 0.85},
		},
		{
			name:       "missing category",
			suggestion: Suggestion{Confidence: 0.5, Score: 0.5},
			wantErr:    true,
			errMsg:     "category id is required",
		},
		{
			name:       "confidence too high",
			suggestion: Suggestion{CategoryID: 1, Confidence: 1.1},
			wantErr:    true,
			errMsg:     "confidence must be between 0.0 and 1.0, got 1.10",
		},
		{
			name:       "score too low",
			suggestion: Suggestion{CategoryID: 1, Confidence: 0.5, Score: -0.1},
			wantErr:    true,
			errMsg:     "score must be between 0.0 and 1.0, got -0.10",
		},
		{
			name:       "edge case - zero confidence",
			suggestion: Suggestion{CategoryID: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.suggestion.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && err.Error() != tt.errMsg {
				t.Errorf("Validate() error = %v, want %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestSuggestions_Sort(t *testing.T) {
	suggestions := Suggestions{
		{CategoryID: 2, RuleID: 20, Score: 0.5, Weight: 1},
		{CategoryID: 1, RuleID: 11, Score: 0.8, Weight: 1},
		{CategoryID: 4, RuleID: 40, Score: 0.3, Weight: 1},
		{CategoryID: 3, RuleID: 30, Score: 0.8, Weight: 2}, // Same score, heavier weight
		{CategoryID: 5, RuleID: 5, Score: 0.8, Weight: 1},  // Same score and weight, lower id
	}

	suggestions.Sort()

	expected := []int64{30, 5, 11, 20, 40}
	for i, want := range expected {
		if suggestions[i].RuleID != want {
			t.Errorf("Sort() index %d = rule %d, want rule %d", i, suggestions[i].RuleID, want)
		}
	}
}

func TestSuggestions_Top(t *testing.T) {
	tests := []struct {
		want        *Suggestion
		name        string
		suggestions Suggestions
	}{
		{
			name:        "empty",
			suggestions: Suggestions{},
			want:        nil,
		},
		{
			name: "multiple",
			suggestions: Suggestions{
				{CategoryID: 2, RuleID: 2, Score: 0.5},
				{CategoryID: 1, RuleID: 1, Score: 0.9},
			},
			want: &Suggestion{CategoryID: 1, RuleID: 1, Score: 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.suggestions.Top()
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("Top() = %v, want nil", got)
			case tt.want != nil && got == nil:
				t.Errorf("Top() = nil, want %v", tt.want)
			case tt.want != nil && got != nil && got.RuleID != tt.want.RuleID:
				t.Errorf("Top() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSuggestions_TopN(t *testing.T) {
	suggestions := Suggestions{
		{CategoryID: 1, RuleID: 1, Score: 0.9},
		{CategoryID: 2, RuleID: 2, Score: 0.7},
		{CategoryID: 3, RuleID: 3, Score: 0.5},
	}

	tests := []struct {
		name  string
		n     int
		count int
	}{
		{name: "zero", n: 0, count: 0},
		{name: "negative", n: -1, count: 0},
		{name: "top 2", n: 2, count: 2},
		{name: "more than exists", n: 10, count: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := suggestions.TopN(tt.n)
			if len(got) != tt.count {
				t.Fatalf("TopN(%d) returned %d, want %d", tt.n, len(got), tt.count)
			}
			if tt.count > 0 && got[0].RuleID != 1 {
				t.Errorf("TopN(%d) first = %d, want 1", tt.n, got[0].RuleID)
			}
		})
	}
}

func TestSuggestions_Validate_DuplicateCategory(t *testing.T) {
	suggestions := Suggestions{
		{CategoryID: 1, RuleID: 1, Confidence: 0.5, Score: 0.5},
		{CategoryID: 1, RuleID: 2, Confidence: 0.4, Score: 0.4},
	}

	if err := suggestions.Validate(); err == nil {
		t.Error("Validate() expected duplicate category error")
	}
}

func TestRuleCounters_SuccessRate(t *testing.T) {
	tests := []struct {
		name     string
		counters RuleCounters
		want     float64
	}{
		{name: "never used", counters: Counters(0, 0), want: 0},
		{name: "all accepted", counters: Counters(4, 4), want: 1},
		{name: "half accepted", counters: Counters(4, 2), want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.counters.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRuleType(t *testing.T) {
	for _, rt := range RuleTypes {
		got, err := ParseRuleType(" " + string(rt) + " ")
		if err != nil || got != rt {
			t.Errorf("ParseRuleType(%q) = %q, %v", rt, got, err)
		}
	}

	if _, err := ParseRuleType("vendor"); err == nil {
		t.Error("ParseRuleType(vendor) expected error")
	}
}
