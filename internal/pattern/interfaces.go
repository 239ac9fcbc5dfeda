// Package pattern provides rule validation, matching, composition and
// ranking for transaction categorization.
package pattern

import (
	"context"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
)

// RuleValidator accepts or rejects rule definitions before they are stored.
type RuleValidator interface {
	// ValidateAndNormalize checks a raw value against its rule type grammar.
	ValidateAndNormalize(ctx context.Context, ruleType model.RuleType, raw string) (Normalized, error)
	// ValidateRule additionally checks the draft against the existing rules
	// of the same category and type.
	ValidateRule(ctx context.Context, draft Draft, existing []model.Rule) (Normalized, error)
}

// AtomicMatcher evaluates one atomic rule against one transaction.
type AtomicMatcher interface {
	// Match never fails; unmatchable input yields a no-match outcome.
	Match(ctx context.Context, rule model.Rule, txn model.Transaction) model.MatchOutcome
}

// CategorySuggester ranks categories for a transaction.
type CategorySuggester interface {
	Suggest(ctx context.Context, txn model.Transaction, rules []model.Rule, composites []model.CompositeRule, maxSuggestions int) model.Suggestions
}

// Draft is a rule definition that has not been stored yet.
type Draft struct {
	Type       model.RuleType
	Value      string
	CategoryID int64
	// ExcludeID skips the rule being edited during duplicate detection.
	ExcludeID int64
}

// Normalized is an accepted rule value together with diagnostic metadata.
type Normalized struct {
	Metadata map[string]string
	Value    string
}

// Options tunes validation, matching and ranking.
type Options struct {
	RegexMaxLength          int
	RegexMaxComplexity      float64
	RegexValidationBudget   time.Duration
	RegexMatchBudget        time.Duration
	SimilarityThreshold     float64
	HighSimilarityNeighbors int
	RankingSmoothing        float64
	MaxSuggestions          int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		RegexMaxLength:          100,
		RegexMaxComplexity:      20,
		RegexValidationBudget:   100 * time.Millisecond,
		RegexMatchBudget:        50 * time.Millisecond,
		SimilarityThreshold:     0.8,
		HighSimilarityNeighbors: 3,
		RankingSmoothing:        1.0,
		MaxSuggestions:          3,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RegexMaxLength <= 0 {
		o.RegexMaxLength = d.RegexMaxLength
	}
	if o.RegexMaxComplexity <= 0 {
		o.RegexMaxComplexity = d.RegexMaxComplexity
	}
	if o.RegexValidationBudget <= 0 {
		o.RegexValidationBudget = d.RegexValidationBudget
	}
	if o.RegexMatchBudget <= 0 {
		o.RegexMatchBudget = d.RegexMatchBudget
	}
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		o.SimilarityThreshold = d.SimilarityThreshold
	}
	if o.HighSimilarityNeighbors <= 0 {
		o.HighSimilarityNeighbors = d.HighSimilarityNeighbors
	}
	if o.RankingSmoothing < 0 {
		o.RankingSmoothing = d.RankingSmoothing
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = d.MaxSuggestions
	}
	return o
}
