package pattern

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// minComponents is the smallest composite worth building.
const minComponents = 2

// ValidateComposite checks a composite definition against the rules that
// already exist. It enforces at least two distinct components, no self
// reference, that every component exists, and that the resulting graph
// stays acyclic. Evaluation relies on these checks and does not repeat them.
func ValidateComposite(composite model.CompositeRule, atomics []model.Rule, composites []model.CompositeRule) error {
	if composite.Operator != model.OperatorAnd && composite.Operator != model.OperatorOr {
		return common.NewValidationError(common.ErrInvalidValue, "operator",
			"operator must be AND or OR, got %q", composite.Operator)
	}

	if composite.ConfidenceWeight < 0 || math.IsNaN(composite.ConfidenceWeight) {
		return common.NewValidationError(common.ErrInvalidValue, "confidence_weight",
			"weight must be positive, got %v", composite.ConfidenceWeight)
	}

	if len(composite.Components) < minComponents {
		return common.NewValidationError(common.ErrInvalidGraph, "components",
			"a composite needs at least %d components, got %d", minComponents, len(composite.Components))
	}

	known := make(map[int64]bool, len(atomics)+len(composites))
	for _, rule := range atomics {
		known[rule.ID] = true
	}

	graph := make(map[int64][]int64, len(composites)+1)
	for _, c := range composites {
		known[c.ID] = true
		graph[c.ID] = c.Components
	}

	seen := make(map[int64]bool, len(composite.Components))
	for _, id := range composite.Components {
		if composite.ID != 0 && id == composite.ID {
			return common.NewValidationError(common.ErrInvalidGraph, "components",
				"composite %d cannot reference itself", composite.ID)
		}
		if seen[id] {
			return common.NewValidationError(common.ErrInvalidGraph, "components",
				"component %d is listed more than once", id)
		}
		seen[id] = true
		if !known[id] {
			return common.NewValidationError(common.ErrInvalidGraph, "components",
				"component rule %d does not exist", id)
		}
	}

	if composite.ID != 0 {
		graph[composite.ID] = composite.Components
		if cycle := findCycle(graph, composite.ID); cycle != nil {
			return common.NewValidationError(common.ErrInvalidGraph, "components",
				"cycle through rules %s", formatPath(cycle))
		}
	}

	return nil
}

// findCycle walks the graph depth first from start and returns the path of
// the first cycle found.
func findCycle(graph map[int64][]int64, start int64) []int64 {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[int64]int, len(graph))
	var path []int64
	var cycle []int64

	var visit func(id int64) bool
	visit = func(id int64) bool {
		switch state[id] {
		case visiting:
			for i, p := range path {
				if p == id {
					cycle = append(append([]int64{}, path[i:]...), id)
					break
				}
			}
			return true
		case done:
			return false
		}

		state[id] = visiting
		path = append(path, id)
		for _, next := range graph[id] {
			if _, isComposite := graph[next]; isComposite && visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return false
	}

	if visit(start) {
		return cycle
	}
	return nil
}

func formatPath(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, " -> ")
}

// Evaluate combines the precomputed outcomes of a composite's components.
// Components without an outcome (inactive or missing) are skipped; when none
// remain the composite does not match.
func Evaluate(composite model.CompositeRule, outcomes map[int64]model.MatchOutcome) model.MatchOutcome {
	present, matched := 0, 0
	minConfidence, maxConfidence := 1.0, 0.0
	var reasons []string

	for _, id := range composite.Components {
		outcome, ok := outcomes[id]
		if !ok {
			continue
		}
		present++

		if !outcome.Matched {
			minConfidence = 0
			continue
		}

		matched++
		reasons = append(reasons, outcome.Reason)
		minConfidence = math.Min(minConfidence, outcome.Confidence)
		maxConfidence = math.Max(maxConfidence, outcome.Confidence)
	}

	if present == 0 {
		return model.NoMatch(composite.ID)
	}

	var confidence float64
	switch composite.Operator {
	case model.OperatorAnd:
		if matched != present {
			return model.NoMatch(composite.ID)
		}
		confidence = minConfidence
	case model.OperatorOr:
		if matched == 0 {
			return model.NoMatch(composite.ID)
		}
		confidence = maxConfidence
	default:
		return model.NoMatch(composite.ID)
	}

	return model.MatchOutcome{
		RuleID:     composite.ID,
		Matched:    true,
		Confidence: confidence * NormalizeWeight(composite.ConfidenceWeight),
		Weight:     composite.ConfidenceWeight,
		Reason:     fmt.Sprintf("%s(%s)", composite.Operator, strings.Join(reasons, "; ")),
	}
}

// Evaluator runs a full rule set against a transaction, bottom-up over the
// composite graph, evaluating every rule at most once.
type Evaluator struct {
	matcher AtomicMatcher
}

// NewEvaluator creates an evaluator backed by matcher.
func NewEvaluator(matcher AtomicMatcher) *Evaluator {
	return &Evaluator{matcher: matcher}
}

// EvaluateAll returns one outcome per active rule and active composite,
// keyed by rule id. Inactive rules get no outcome, so composites that
// reference them evaluate over their remaining components.
func (e *Evaluator) EvaluateAll(ctx context.Context, txn model.Transaction, rules []model.Rule, composites []model.CompositeRule) map[int64]model.MatchOutcome {
	outcomes := make(map[int64]model.MatchOutcome, len(rules)+len(composites))

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		outcomes[rule.ID] = e.matcher.Match(ctx, rule, txn)
	}

	for _, composite := range topologicalOrder(ctx, composites) {
		outcomes[composite.ID] = Evaluate(composite, outcomes)
	}

	return outcomes
}

// topologicalOrder sorts active composites so every composite comes after the
// composites it references. Composites caught in a cycle, which validation
// should have prevented, are logged and left out.
func topologicalOrder(ctx context.Context, composites []model.CompositeRule) []model.CompositeRule {
	byID := make(map[int64]model.CompositeRule, len(composites))
	for _, c := range composites {
		if c.Active {
			byID[c.ID] = c
		}
	}

	pending := make(map[int64]int, len(byID))
	dependents := make(map[int64][]int64, len(byID))
	for id, c := range byID {
		for _, component := range c.Components {
			if _, ok := byID[component]; ok {
				pending[id]++
				dependents[component] = append(dependents[component], id)
			}
		}
	}

	// Seed in input order so the result is deterministic.
	var queue []int64
	for _, c := range composites {
		if _, ok := byID[c.ID]; ok && pending[c.ID] == 0 {
			queue = append(queue, c.ID)
		}
	}

	ordered := make([]model.CompositeRule, 0, len(byID))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, dependent := range dependents[id] {
			pending[dependent]--
			if pending[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) < len(byID) {
		common.LogWarn(ctx, "Composite rules form a cycle, skipping them", common.Fields{
			"skipped": len(byID) - len(ordered),
		})
	}

	return ordered
}
