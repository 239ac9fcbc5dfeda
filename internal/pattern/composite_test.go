package pattern

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

func TestValidateComposite(t *testing.T) {
	atomics := []model.Rule{
		{ID: 1, Type: model.RuleTypeMerchant, Value: "uber", Active: true},
		{ID: 2, Type: model.RuleTypeTime, Value: "evening", Active: true},
		{ID: 3, Type: model.RuleTypeAmountRange, Value: "10.00-50.00", Active: true},
	}
	composites := []model.CompositeRule{
		{ID: 10, Operator: model.OperatorAnd, Components: []int64{1, 2}, Active: true},
		{ID: 11, Operator: model.OperatorOr, Components: []int64{10, 3}, Active: true},
	}

	tests := []struct {
		wantErr   error
		name      string
		composite model.CompositeRule
	}{
		{
			name:      "two atomics",
			composite: model.CompositeRule{Operator: model.OperatorAnd, Components: []int64{1, 3}, ConfidenceWeight: 1},
		},
		{
			name:      "nested composite",
			composite: model.CompositeRule{Operator: model.OperatorOr, Components: []int64{11, 2}, ConfidenceWeight: 1},
		},
		{
			name:      "unknown operator",
			composite: model.CompositeRule{Operator: model.Operator("XOR"), Components: []int64{1, 2}},
			wantErr:   common.ErrInvalidValue,
		},
		{
			name:      "negative weight",
			composite: model.CompositeRule{Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: -1},
			wantErr:   common.ErrInvalidValue,
		},
		{
			name:      "single component",
			composite: model.CompositeRule{Operator: model.OperatorAnd, Components: []int64{1}},
			wantErr:   common.ErrInvalidGraph,
		},
		{
			name:      "repeated component",
			composite: model.CompositeRule{Operator: model.OperatorAnd, Components: []int64{1, 1}},
			wantErr:   common.ErrInvalidGraph,
		},
		{
			name:      "missing component",
			composite: model.CompositeRule{Operator: model.OperatorOr, Components: []int64{1, 99}},
			wantErr:   common.ErrInvalidGraph,
		},
		{
			name:      "self reference",
			composite: model.CompositeRule{ID: 12, Operator: model.OperatorOr, Components: []int64{12, 1}},
			wantErr:   common.ErrInvalidGraph,
		},
		{
			name:      "edit that closes a cycle",
			composite: model.CompositeRule{ID: 10, Operator: model.OperatorAnd, Components: []int64{1, 11}},
			wantErr:   common.ErrInvalidGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComposite(tt.composite, atomics, composites)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestValidateComposite_CycleMessageNamesPath(t *testing.T) {
	composites := []model.CompositeRule{
		{ID: 10, Operator: model.OperatorAnd, Components: []int64{1, 11}},
		{ID: 11, Operator: model.OperatorOr, Components: []int64{12, 2}},
		{ID: 12, Operator: model.OperatorOr, Components: []int64{1, 2}},
	}
	atomics := []model.Rule{{ID: 1}, {ID: 2}}

	err := ValidateComposite(model.CompositeRule{ID: 12, Operator: model.OperatorOr, Components: []int64{10, 2}}, atomics, composites)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "12 -> 10 -> 11 -> 12")
}

func TestEvaluate(t *testing.T) {
	matched := func(id int64, confidence float64) model.MatchOutcome {
		return model.MatchOutcome{RuleID: id, Matched: true, Confidence: confidence, Weight: confidence, Reason: fmt.Sprintf("rule %d", id)}
	}

	tests := []struct {
		outcomes  map[int64]model.MatchOutcome
		name      string
		composite model.CompositeRule
		wantConf  float64
		wantMatch bool
	}{
		{
			name:      "and takes the weakest component",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 1},
			outcomes:  map[int64]model.MatchOutcome{1: matched(1, 0.9), 2: matched(2, 0.6)},
			wantMatch: true,
			wantConf:  0.6,
		},
		{
			name:      "and fails on one component",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 1},
			outcomes:  map[int64]model.MatchOutcome{1: matched(1, 0.9), 2: model.NoMatch(2)},
		},
		{
			name:      "or takes the strongest match",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorOr, Components: []int64{1, 2}, ConfidenceWeight: 1},
			outcomes:  map[int64]model.MatchOutcome{1: model.NoMatch(1), 2: matched(2, 0.7)},
			wantMatch: true,
			wantConf:  0.7,
		},
		{
			name:      "or with nothing matching",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorOr, Components: []int64{1, 2}, ConfidenceWeight: 1},
			outcomes:  map[int64]model.MatchOutcome{1: model.NoMatch(1), 2: model.NoMatch(2)},
		},
		{
			name:      "composite weight scales the result",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 0.5},
			outcomes:  map[int64]model.MatchOutcome{1: matched(1, 0.8), 2: matched(2, 1)},
			wantMatch: true,
			wantConf:  0.4,
		},
		{
			name:      "inactive component is skipped",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 1},
			outcomes:  map[int64]model.MatchOutcome{1: matched(1, 0.8)},
			wantMatch: true,
			wantConf:  0.8,
		},
		{
			name:      "no active components",
			composite: model.CompositeRule{ID: 9, Operator: model.OperatorOr, Components: []int64{1, 2}, ConfidenceWeight: 1},
			outcomes:  map[int64]model.MatchOutcome{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.composite, tt.outcomes)
			assert.Equal(t, tt.composite.ID, got.RuleID)
			assert.Equal(t, tt.wantMatch, got.Matched)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			if tt.wantMatch {
				assert.Contains(t, got.Reason, string(tt.composite.Operator)+"(")
			}
		})
	}
}

func TestEvaluator_UberEveningComposite(t *testing.T) {
	ctx := context.Background()
	evaluator := NewEvaluator(NewMatcher(DefaultOptions()))

	rules := []model.Rule{
		{ID: 1, Type: model.RuleTypeMerchant, Value: "uber", ConfidenceWeight: 1, CategoryID: 5, Active: true},
		{ID: 2, Type: model.RuleTypeTime, Value: "evening", ConfidenceWeight: 1, CategoryID: 5, Active: true},
	}
	composites := []model.CompositeRule{
		{ID: 3, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 1, CategoryID: 6, Active: true},
	}

	ride := func(hour int) map[int64]model.MatchOutcome {
		return evaluator.EvaluateAll(ctx, txnWith("UBER *TRIP", "", "23.40", monday(hour, 0)), rules, composites)
	}

	afternoon := ride(14)
	assert.True(t, afternoon[1].Matched)
	assert.False(t, afternoon[2].Matched)
	assert.False(t, afternoon[3].Matched)

	evening := ride(19)
	assert.True(t, evening[3].Matched)
	assert.Contains(t, evening[3].Reason, "AND(")
	assert.Contains(t, evening[3].Reason, "uber")
	assert.Contains(t, evening[3].Reason, "evening")
}

func TestEvaluator_NestedCompositesEvaluateBottomUp(t *testing.T) {
	ctx := context.Background()
	evaluator := NewEvaluator(NewMatcher(DefaultOptions()))

	rules := []model.Rule{
		{ID: 1, Type: model.RuleTypeMerchant, Value: "shell", ConfidenceWeight: 0.9, Active: true},
		{ID: 2, Type: model.RuleTypeAmountRange, Value: "20.00-80.00", ConfidenceWeight: 0.7, Active: true},
		{ID: 3, Type: model.RuleTypeKeyword, Value: "fuel", ConfidenceWeight: 0.5, Active: true},
	}
	// Listed parent first so the order has to come from the graph.
	composites := []model.CompositeRule{
		{ID: 20, Operator: model.OperatorOr, Components: []int64{10, 3}, ConfidenceWeight: 1, Active: true},
		{ID: 10, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 1, Active: true},
	}

	outcomes := evaluator.EvaluateAll(ctx, txnWith("Shell Oil 123", "", "45.00", monday(9, 0)), rules, composites)

	require.True(t, outcomes[10].Matched)
	assert.InDelta(t, 0.7, outcomes[10].Confidence, 1e-9)
	require.True(t, outcomes[20].Matched)
	assert.InDelta(t, 0.7, outcomes[20].Confidence, 1e-9)
}

func TestEvaluator_InactiveRulesAreSkipped(t *testing.T) {
	ctx := context.Background()
	evaluator := NewEvaluator(NewMatcher(DefaultOptions()))

	rules := []model.Rule{
		{ID: 1, Type: model.RuleTypeMerchant, Value: "shell", ConfidenceWeight: 1, Active: true},
		{ID: 2, Type: model.RuleTypeMerchant, Value: "exxon", ConfidenceWeight: 1, Active: false},
	}
	composites := []model.CompositeRule{
		{ID: 10, Operator: model.OperatorAnd, Components: []int64{1, 2}, ConfidenceWeight: 1, Active: true},
		{ID: 11, Operator: model.OperatorOr, Components: []int64{1, 2}, ConfidenceWeight: 1, Active: false},
	}

	outcomes := evaluator.EvaluateAll(ctx, txnWith("Shell", "", "30.00", monday(9, 0)), rules, composites)

	_, hasInactiveRule := outcomes[2]
	assert.False(t, hasInactiveRule)
	_, hasInactiveComposite := outcomes[11]
	assert.False(t, hasInactiveComposite)
	assert.True(t, outcomes[10].Matched, "AND over the remaining active component")
}

func TestEvaluator_CyclesNeverMatch(t *testing.T) {
	ctx := context.Background()
	evaluator := NewEvaluator(NewMatcher(DefaultOptions()))

	rules := []model.Rule{
		{ID: 1, Type: model.RuleTypeMerchant, Value: "shell", ConfidenceWeight: 1, Active: true},
	}
	composites := []model.CompositeRule{
		{ID: 10, Operator: model.OperatorOr, Components: []int64{1, 11}, ConfidenceWeight: 1, Active: true},
		{ID: 11, Operator: model.OperatorOr, Components: []int64{1, 10}, ConfidenceWeight: 1, Active: true},
	}

	outcomes := evaluator.EvaluateAll(ctx, txnWith("Shell", "", "30.00", monday(9, 0)), rules, composites)

	assert.True(t, outcomes[1].Matched)
	assert.False(t, outcomes[10].Matched)
	assert.False(t, outcomes[11].Matched)
}
