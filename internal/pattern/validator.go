package pattern

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// Ensure Validator implements RuleValidator interface.
var _ RuleValidator = (*Validator)(nil)

// Validator cleans rule values and accepts or rejects them. It never writes
// to the store.
type Validator struct {
	opts Options
}

// NewValidator creates a new rule validator.
func NewValidator(opts Options) *Validator {
	return &Validator{opts: opts.withDefaults()}
}

// ValidateAndNormalize checks raw against the grammar of ruleType and returns
// the value in its canonical form.
func (v *Validator) ValidateAndNormalize(ctx context.Context, ruleType model.RuleType, raw string) (Normalized, error) {
	if !ruleType.IsValid() {
		return Normalized{}, common.NewValidationError(common.ErrInvalidValue, "rule_type",
			"unsupported rule type %q", ruleType)
	}

	if ruleType == model.RuleTypeRegex {
		return screenRegex(ctx, raw, v.opts)
	}

	value, err := normalizeValue(ruleType, raw)
	if err != nil {
		return Normalized{}, err
	}

	return Normalized{Value: value, Metadata: map[string]string{}}, nil
}

// ValidateRule normalizes the draft and checks it against the existing rules
// of the same category and type. Exact duplicates are rejected; text rules
// that are merely similar are flagged in the returned metadata.
func (v *Validator) ValidateRule(ctx context.Context, draft Draft, existing []model.Rule) (Normalized, error) {
	normalized, err := v.ValidateAndNormalize(ctx, draft.Type, draft.Value)
	if err != nil {
		return Normalized{}, err
	}

	peers := make([]model.Rule, 0, len(existing))
	for _, rule := range existing {
		if rule.ID == draft.ExcludeID && draft.ExcludeID != 0 {
			continue
		}
		if rule.CategoryID != draft.CategoryID || rule.Type != draft.Type {
			continue
		}
		if rule.Value == normalized.Value {
			return Normalized{}, common.NewValidationError(common.ErrDuplicateRule, "value",
				"%s rule %q already exists as rule %d", draft.Type, normalized.Value, rule.ID)
		}
		peers = append(peers, rule)
	}

	if !draft.Type.IsText() {
		return normalized, nil
	}

	neighbors := similarNeighbors(normalized.Value, peers, v.opts.SimilarityThreshold)
	if len(neighbors) == 0 {
		return normalized, nil
	}

	normalized.Metadata[model.MetaSimilarRuleIDs] = joinIDs(neighbors)
	if len(neighbors) >= v.opts.HighSimilarityNeighbors {
		normalized.Metadata[model.MetaHighSimilarity] = strconv.FormatBool(true)
		slog.Warn("Rule is similar to several existing rules",
			"value", normalized.Value,
			"category_id", draft.CategoryID,
			"similar_rules", len(neighbors))
	}

	return normalized, nil
}

// ValidateWeight checks a confidence weight, defaulting zero to 1.0.
func ValidateWeight(weight float64) (float64, error) {
	if weight == 0 {
		return model.DefaultConfidenceWeight, nil
	}
	if weight < 0 || math.IsNaN(weight) || weight > maxConfidenceWeight {
		return 0, common.NewValidationError(common.ErrInvalidValue, "confidence_weight",
			"weight must be a positive number up to %.0f, got %v", maxConfidenceWeight, weight)
	}
	return weight, nil
}

// maxConfidenceWeight caps author supplied weights.
const maxConfidenceWeight = 100.0
