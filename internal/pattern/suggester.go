package pattern

import (
	"context"

	"github.com/Veraticus/spice-rules/internal/model"
)

// Ensure Suggester implements CategorySuggester interface.
var _ CategorySuggester = (*Suggester)(nil)

// Suggester ranks categories from matching rules. It reads the rule set it is
// given and never writes anything back.
type Suggester struct {
	evaluator *Evaluator
	opts      Options
}

// NewSuggester creates a new category suggester.
func NewSuggester(matcher AtomicMatcher, opts Options) *Suggester {
	return &Suggester{
		evaluator: NewEvaluator(matcher),
		opts:      opts.withDefaults(),
	}
}

// Suggest evaluates every active rule against txn and returns at most
// maxSuggestions suggestions, one per category, best first. A non-positive
// maxSuggestions uses the configured default. Category names are left for
// the caller to fill in.
func (s *Suggester) Suggest(ctx context.Context, txn model.Transaction, rules []model.Rule, composites []model.CompositeRule, maxSuggestions int) model.Suggestions {
	if maxSuggestions <= 0 {
		maxSuggestions = s.opts.MaxSuggestions
	}

	outcomes := s.evaluator.EvaluateAll(ctx, txn, rules, composites)

	candidates := make([]candidate, 0, len(outcomes))
	for _, rule := range rules {
		if outcome, ok := outcomes[rule.ID]; ok && outcome.Matched {
			candidates = append(candidates, candidate{
				outcome:    outcome,
				categoryID: rule.CategoryID,
				counters:   model.Counters(rule.UsageCount, rule.SuccessCount),
			})
		}
	}
	for _, composite := range composites {
		if outcome, ok := outcomes[composite.ID]; ok && outcome.Matched {
			candidates = append(candidates, candidate{
				outcome:    outcome,
				categoryID: composite.CategoryID,
				counters:   model.Counters(composite.UsageCount, composite.SuccessCount),
			})
		}
	}

	return rank(candidates, s.opts.RankingSmoothing, maxSuggestions)
}

// candidate is a matched rule waiting to be ranked.
type candidate struct {
	outcome    model.MatchOutcome
	counters   model.RuleCounters
	categoryID int64
}

// rank keeps the best candidate per category, scores the survivors by
// confidence and historical success, and returns the top n.
func rank(candidates []candidate, smoothing float64, n int) model.Suggestions {
	best := make(map[int64]candidate, len(candidates))
	order := make([]int64, 0, len(candidates))

	for _, c := range candidates {
		current, ok := best[c.categoryID]
		if !ok {
			order = append(order, c.categoryID)
			best[c.categoryID] = c
			continue
		}
		if beats(c, current) {
			best[c.categoryID] = c
		}
	}

	suggestions := make(model.Suggestions, 0, len(order))
	for _, categoryID := range order {
		c := best[categoryID]
		suggestions = append(suggestions, model.Suggestion{
			CategoryID: categoryID,
			RuleID:     c.outcome.RuleID,
			Confidence: c.outcome.Confidence,
			Weight:     c.outcome.Weight,
			Score:      c.outcome.Confidence * SuccessFactor(c.counters, smoothing),
			Reason:     c.outcome.Reason,
		})
	}

	return suggestions.TopN(n)
}

// beats reports whether a should represent its category instead of b.
func beats(a, b candidate) bool {
	if a.outcome.Confidence != b.outcome.Confidence {
		return a.outcome.Confidence > b.outcome.Confidence
	}
	if a.outcome.Weight != b.outcome.Weight {
		return a.outcome.Weight > b.outcome.Weight
	}
	return a.outcome.RuleID < b.outcome.RuleID
}

// SuccessFactor is the smoothed success rate (success+s)/(usage+s). A rule
// that has never been used is neutral.
func SuccessFactor(counters model.RuleCounters, smoothing float64) float64 {
	if counters.UsageCount <= 0 {
		return 1
	}
	factor := (float64(counters.SuccessCount) + smoothing) / (float64(counters.UsageCount) + smoothing)
	switch {
	case factor < 0:
		return 0
	case factor > 1:
		return 1
	}
	return factor
}
