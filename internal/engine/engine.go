// Package engine exposes the pattern matching and confidence engine to host
// applications. It wires validation, ranking and feedback tracking over a
// pattern store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/learning"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// Engine is safe for concurrent use. It holds no goroutines of its own.
type Engine struct {
	store     service.PatternStore
	validator pattern.RuleValidator
	suggester pattern.CategorySuggester
	tracker   *learning.Tracker
	opts      pattern.Options
}

// Config holds configuration options for the engine.
type Config struct {
	Now         func() time.Time
	Pattern     pattern.Options
	Retry       service.RetryOptions
	TrendWindow time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Pattern:     pattern.DefaultOptions(),
		TrendWindow: learning.DefaultTrendWindow,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

// New creates an engine with the default configuration.
func New(store service.PatternStore) *Engine {
	return NewWithConfig(store, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(store service.PatternStore, cfg Config) *Engine {
	matcher := pattern.NewMatcher(cfg.Pattern)

	trackerOpts := []learning.Option{
		learning.WithTrendWindow(cfg.TrendWindow),
		learning.WithRetryOptions(cfg.Retry),
	}
	if cfg.Now != nil {
		trackerOpts = append(trackerOpts, learning.WithClock(cfg.Now))
	}

	opts := cfg.Pattern
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = pattern.DefaultOptions().MaxSuggestions
	}

	return &Engine{
		store:     store,
		validator: pattern.NewValidator(cfg.Pattern),
		suggester: pattern.NewSuggester(matcher, cfg.Pattern),
		tracker:   learning.NewTracker(store, trackerOpts...),
		opts:      opts,
	}
}

// ValidateAndNormalize checks a raw rule value against its type grammar
// without touching the store.
func (e *Engine) ValidateAndNormalize(ctx context.Context, ruleType model.RuleType, raw string) (pattern.Normalized, error) {
	return e.validator.ValidateAndNormalize(ctx, ruleType, raw)
}

// Suggest ranks categories for txn against the current active rule set.
// maxSuggestions <= 0 uses the configured default.
func (e *Engine) Suggest(ctx context.Context, txn model.Transaction, maxSuggestions int) (model.Suggestions, error) {
	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	composites, err := e.store.ActiveComposites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active composites: %w", err)
	}

	return e.SuggestWith(ctx, txn, rules, composites, maxSuggestions)
}

// SuggestWith ranks txn against an already loaded rule snapshot. Batch
// callers load the snapshot once and reuse it for every record.
func (e *Engine) SuggestWith(ctx context.Context, txn model.Transaction, rules []model.Rule, composites []model.CompositeRule, maxSuggestions int) (model.Suggestions, error) {
	if maxSuggestions <= 0 {
		maxSuggestions = e.opts.MaxSuggestions
	}

	suggestions := e.suggester.Suggest(ctx, txn, rules, composites, maxSuggestions)

	names := make(map[int64]string, len(suggestions))
	for i := range suggestions {
		id := suggestions[i].CategoryID
		name, ok := names[id]
		if !ok {
			cat, err := e.store.GetCategoryByID(ctx, id)
			switch {
			case err == nil:
				name = cat.Name
			case errors.Is(err, common.ErrNotFound):
				name = ""
			default:
				return nil, fmt.Errorf("failed to resolve category %d: %w", id, err)
			}
			names[id] = name
		}
		suggestions[i].Category = name
	}

	slog.Debug("ranked transaction",
		"transaction", txn.DisplayName(),
		"rules", len(rules),
		"composites", len(composites),
		"suggestions", len(suggestions))

	return suggestions, nil
}

// LoadSnapshot returns the active rule set for use with SuggestWith.
func (e *Engine) LoadSnapshot(ctx context.Context) ([]model.Rule, []model.CompositeRule, error) {
	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	composites, err := e.store.ActiveComposites(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active composites: %w", err)
	}
	return rules, composites, nil
}

// RecordFeedback stores the user's verdict and updates the fired rule's
// counters. ruleID is nil when no rule produced the suggestion; the returned
// statistics are nil in that case.
func (e *Engine) RecordFeedback(ctx context.Context, ruleID *int64, categoryID int64, outcome model.Outcome) (*model.RuleStatistics, error) {
	if _, err := e.store.GetCategoryByID(ctx, categoryID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewValidationError(common.ErrInvalidValue, "category_id",
				"category %d does not exist", categoryID)
		}
		return nil, fmt.Errorf("failed to verify category: %w", err)
	}
	return e.tracker.RecordFeedback(ctx, ruleID, categoryID, outcome)
}

// RuleStatistics reports counters, success rate and feedback trend of a rule.
func (e *Engine) RuleStatistics(ctx context.Context, ruleID int64) (*model.RuleStatistics, error) {
	return e.tracker.Statistics(ctx, ruleID)
}

// RuleInput describes an atomic rule to create or edit.
type RuleInput struct {
	Type       model.RuleType
	Value      string
	Origin     model.Origin
	CategoryID int64
	Weight     float64
}

// CreateRule validates and stores a new atomic rule.
func (e *Engine) CreateRule(ctx context.Context, in RuleInput) (*model.Rule, error) {
	rule, err := e.prepareRule(ctx, in, 0)
	if err != nil {
		return nil, err
	}
	rule.Active = true

	if err := e.store.CreateRule(ctx, rule); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return nil, common.NewValidationError(common.ErrDuplicateRule, "value",
				"%s rule %q already exists", rule.Type, rule.Value)
		}
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	common.LogInfo("Created rule", common.Fields{
		"rule_id":     rule.ID,
		"rule_type":   rule.Type,
		"value":       rule.Value,
		"category_id": rule.CategoryID,
	})
	return rule, nil
}

// UpdateRule re-validates and rewrites an existing atomic rule. Counters and
// activation state are kept.
func (e *Engine) UpdateRule(ctx context.Context, id int64, in RuleInput) (*model.Rule, error) {
	existing, err := e.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	rule, err := e.prepareRule(ctx, in, id)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	rule.Active = existing.Active
	rule.Origin = existing.Origin
	rule.CreatedAt = existing.CreatedAt
	rule.UsageCount = existing.UsageCount
	rule.SuccessCount = existing.SuccessCount

	if err := e.store.UpdateRule(ctx, rule); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return nil, common.NewValidationError(common.ErrDuplicateRule, "value",
				"%s rule %q already exists", rule.Type, rule.Value)
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

func (e *Engine) prepareRule(ctx context.Context, in RuleInput, excludeID int64) (*model.Rule, error) {
	if _, err := e.store.GetCategoryByID(ctx, in.CategoryID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewValidationError(common.ErrInvalidValue, "category_id",
				"category %d does not exist", in.CategoryID)
		}
		return nil, fmt.Errorf("failed to verify category: %w", err)
	}

	weight, err := pattern.ValidateWeight(in.Weight)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.RulesByCategory(ctx, in.CategoryID, in.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing rules: %w", err)
	}

	normalized, err := e.validator.ValidateRule(ctx, pattern.Draft{
		Type:       in.Type,
		Value:      in.Value,
		CategoryID: in.CategoryID,
		ExcludeID:  excludeID,
	}, existing)
	if err != nil {
		return nil, err
	}

	origin := in.Origin
	if origin == "" {
		origin = model.OriginUser
	}

	return &model.Rule{
		Type:             in.Type,
		Value:            normalized.Value,
		CategoryID:       in.CategoryID,
		ConfidenceWeight: weight,
		Origin:           origin,
		Metadata:         normalized.Metadata,
	}, nil
}

// DeactivateRule stops an atomic rule from matching. Its history is kept.
func (e *Engine) DeactivateRule(ctx context.Context, id int64) error {
	return e.store.SetRuleActive(ctx, id, false)
}

// ActivateRule re-enables a deactivated atomic rule.
func (e *Engine) ActivateRule(ctx context.Context, id int64) error {
	return e.store.SetRuleActive(ctx, id, true)
}

// DeleteRule removes a rule. Rules referenced by a composite are refused
// with common.ErrRuleReferenced; deactivate them instead.
func (e *Engine) DeleteRule(ctx context.Context, id int64) error {
	if err := e.store.DeleteRule(ctx, id); err != nil {
		if errors.Is(err, common.ErrRuleReferenced) {
			return common.NewUserError(
				fmt.Sprintf("rule %d is part of a composite rule; deactivate it instead", id), err)
		}
		return err
	}
	return nil
}

// CompositeInput describes a composite rule to create.
type CompositeInput struct {
	Operator   model.Operator
	Origin     model.Origin
	Components []int64
	CategoryID int64
	Weight     float64
}

// CreateComposite validates the composite graph and stores the rule.
func (e *Engine) CreateComposite(ctx context.Context, in CompositeInput) (*model.CompositeRule, error) {
	if _, err := e.store.GetCategoryByID(ctx, in.CategoryID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewValidationError(common.ErrInvalidValue, "category_id",
				"category %d does not exist", in.CategoryID)
		}
		return nil, fmt.Errorf("failed to verify category: %w", err)
	}

	weight, err := pattern.ValidateWeight(in.Weight)
	if err != nil {
		return nil, err
	}

	origin := in.Origin
	if origin == "" {
		origin = model.OriginUser
	}

	composite := &model.CompositeRule{
		Operator:         in.Operator,
		Components:       append([]int64(nil), in.Components...),
		CategoryID:       in.CategoryID,
		ConfidenceWeight: weight,
		Origin:           origin,
		Active:           true,
	}

	atomics, err := e.store.AllRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	composites, err := e.store.AllComposites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load composite rules: %w", err)
	}

	if err := pattern.ValidateComposite(*composite, atomics, composites); err != nil {
		return nil, err
	}

	if err := e.store.CreateComposite(ctx, composite); err != nil {
		return nil, fmt.Errorf("failed to create composite rule: %w", err)
	}

	common.LogInfo("Created composite rule", common.Fields{
		"rule_id":    composite.ID,
		"operator":   composite.Operator,
		"components": joinIDs(composite.Components),
	})
	return composite, nil
}

// DeactivateComposite stops a composite rule from matching.
func (e *Engine) DeactivateComposite(ctx context.Context, id int64) error {
	return e.store.SetCompositeActive(ctx, id, false)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
