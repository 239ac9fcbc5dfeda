package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rulepack"
)

// ExportPack writes the active rules into a pack that ImportPack can read
// back. Composites are kept only when every component is exported too.
func (e *Engine) ExportPack(ctx context.Context, name string) (*rulepack.Pack, error) {
	rules, composites, err := e.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	categories, err := e.store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	names := make(map[int64]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}

	pack := &rulepack.Pack{Name: name}
	keys := make(map[int64]string)

	for _, rule := range rules {
		key := exportKey(rule.ID)
		keys[rule.ID] = key
		pack.Rules = append(pack.Rules, rulepack.Rule{
			Key:      key,
			Type:     string(rule.Type),
			Value:    rule.Value,
			Category: names[rule.CategoryID],
			Weight:   rule.ConfidenceWeight,
		})
	}

	// A component always exists before the composite that uses it, so id
	// order declares components first.
	sort.Slice(composites, func(i, j int) bool { return composites[i].ID < composites[j].ID })

	for _, composite := range composites {
		components, ok := componentKeys(composite, keys)
		if !ok {
			continue
		}
		key := exportKey(composite.ID)
		keys[composite.ID] = key
		pack.Composites = append(pack.Composites, rulepack.Composite{
			Key:        key,
			Operator:   string(composite.Operator),
			Category:   names[composite.CategoryID],
			Weight:     composite.ConfidenceWeight,
			Components: components,
		})
	}

	return pack, nil
}

func componentKeys(composite model.CompositeRule, keys map[int64]string) ([]string, bool) {
	components := make([]string, 0, len(composite.Components))
	for _, id := range composite.Components {
		key, ok := keys[id]
		if !ok {
			return nil, false
		}
		components = append(components, key)
	}
	return components, true
}

func exportKey(id int64) string {
	return "r" + strconv.FormatInt(id, 10)
}
