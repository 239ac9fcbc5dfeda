package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rulepack"
)

// ImportResult summarizes a rule pack import.
type ImportResult struct {
	Errors            []error
	CategoriesCreated int
	RulesCreated      int
	RulesSkipped      int
	CompositesCreated int
	CompositesSkipped int
}

// ImportPack creates the pack's categories and rules. Rules that already
// exist are reused so composites can still reference them. Invalid entries
// are collected in the result rather than aborting the import; progress is
// called once per imported entry when non-nil.
func (e *Engine) ImportPack(ctx context.Context, pack *rulepack.Pack, origin model.Origin, progress func()) (*ImportResult, error) {
	if err := pack.Check(); err != nil {
		return nil, err
	}

	result := &ImportResult{}
	tick := func() {
		if progress != nil {
			progress()
		}
	}

	categories := make(map[string]int64)
	for _, name := range pack.Categories() {
		_, err := e.store.GetCategoryByName(ctx, name)
		existed := err == nil
		cat, err := e.store.CreateCategory(ctx, name, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create category %q: %w", name, err)
		}
		if !existed {
			result.CategoriesCreated++
		}
		categories[name] = cat.ID
	}

	ids := make(map[string]int64)
	for i, entry := range pack.Rules {
		tick()
		ruleType, _ := model.ParseRuleType(entry.Type)
		in := RuleInput{
			Type:       ruleType,
			Value:      entry.Value,
			Origin:     origin,
			CategoryID: categories[strings.TrimSpace(entry.Category)],
			Weight:     entry.Weight,
		}

		rule, err := e.CreateRule(ctx, in)
		switch {
		case err == nil:
			result.RulesCreated++
		case errors.Is(err, common.ErrDuplicateRule):
			rule, err = e.findRule(ctx, in)
			if err != nil {
				return nil, err
			}
			result.RulesSkipped++
		default:
			result.Errors = append(result.Errors, fmt.Errorf("rules[%d] %s %q: %w", i, entry.Type, entry.Value, err))
			continue
		}

		if entry.Key != "" {
			ids[entry.Key] = rule.ID
		}
	}

	for i, entry := range pack.Composites {
		tick()
		components := make([]int64, 0, len(entry.Components))
		missing := ""
		for _, key := range entry.Components {
			id, ok := ids[key]
			if !ok {
				missing = key
				break
			}
			components = append(components, id)
		}
		if missing != "" {
			result.CompositesSkipped++
			result.Errors = append(result.Errors, fmt.Errorf("composites[%d]: component %q was not imported", i, missing))
			continue
		}

		operator, _ := model.ParseOperator(entry.Operator)
		if existing := e.findComposite(ctx, operator, components); existing != nil {
			result.CompositesSkipped++
			if entry.Key != "" {
				ids[entry.Key] = existing.ID
			}
			continue
		}

		composite, err := e.CreateComposite(ctx, CompositeInput{
			Operator:   operator,
			Origin:     origin,
			Components: components,
			CategoryID: categories[strings.TrimSpace(entry.Category)],
			Weight:     entry.Weight,
		})
		if err != nil {
			result.CompositesSkipped++
			result.Errors = append(result.Errors, fmt.Errorf("composites[%d]: %w", i, err))
			continue
		}

		result.CompositesCreated++
		if entry.Key != "" {
			ids[entry.Key] = composite.ID
		}
	}

	common.LogInfo("Imported rule pack", common.Fields{
		"pack":               pack.Name,
		"origin":             origin,
		"rules_created":      result.RulesCreated,
		"rules_skipped":      result.RulesSkipped,
		"composites_created": result.CompositesCreated,
		"errors":             len(result.Errors),
	})
	return result, nil
}

// findRule returns the stored rule a duplicate import collided with.
func (e *Engine) findRule(ctx context.Context, in RuleInput) (*model.Rule, error) {
	normalized, err := e.validator.ValidateAndNormalize(ctx, in.Type, in.Value)
	if err != nil {
		return nil, err
	}
	rules, err := e.store.RulesByCategory(ctx, in.CategoryID, in.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing rules: %w", err)
	}
	for i := range rules {
		if rules[i].Value == normalized.Value {
			return &rules[i], nil
		}
	}
	return nil, fmt.Errorf("%s rule %q: %w", in.Type, normalized.Value, common.ErrNotFound)
}

// findComposite returns an existing composite with the same operator over
// exactly these components.
func (e *Engine) findComposite(ctx context.Context, operator model.Operator, components []int64) *model.CompositeRule {
	composites, err := e.store.AllComposites(ctx)
	if err != nil {
		return nil
	}
	for i := range composites {
		if composites[i].Operator == operator && sameIDs(composites[i].Components, components) {
			return &composites[i]
		}
	}
	return nil
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
