// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
)

// RuleSnapshot supplies the read-mostly rule set the ranking engine runs.
type RuleSnapshot interface {
	ActiveRules(ctx context.Context) ([]model.Rule, error)
	ActiveComposites(ctx context.Context) ([]model.CompositeRule, error)
}

// CounterStore is the durable, atomically incrementable counter storage the
// feedback tracker writes to.
type CounterStore interface {
	// IncrementCounters adds one usage, plus one success when success is true,
	// as a single atomic step. It returns the counters after the increment.
	// Implementations report lost races as common.ErrCounterWriteConflict.
	IncrementCounters(ctx context.Context, ruleID int64, success bool) (model.RuleCounters, error)
	GetCounters(ctx context.Context, ruleID int64) (model.RuleCounters, error)
	SaveFeedback(ctx context.Context, feedback *model.Feedback) error
	// CountFeedback counts feedback for ruleID created in [from, to).
	CountFeedback(ctx context.Context, ruleID int64, from, to time.Time) (int, error)
}

// CategoryStore manages the categories rules point at.
type CategoryStore interface {
	CreateCategory(ctx context.Context, name, description string) (*model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	GetCategories(ctx context.Context) ([]model.Category, error)
}

// PatternStore defines the contract for our persistence layer.
type PatternStore interface {
	RuleSnapshot
	CounterStore
	CategoryStore

	// Atomic rule operations
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule) error
	SetRuleActive(ctx context.Context, id int64, active bool) error
	// DeleteRule refuses with common.ErrRuleReferenced while any composite
	// lists the rule as a component.
	DeleteRule(ctx context.Context, id int64) error
	RulesByCategory(ctx context.Context, categoryID int64, ruleType model.RuleType) ([]model.Rule, error)
	AllRules(ctx context.Context) ([]model.Rule, error)

	// Composite rule operations
	CreateComposite(ctx context.Context, composite *model.CompositeRule) error
	GetComposite(ctx context.Context, id int64) (*model.CompositeRule, error)
	SetCompositeActive(ctx context.Context, id int64, active bool) error
	// AllComposites includes inactive composites; graph validation needs them.
	AllComposites(ctx context.Context) ([]model.CompositeRule, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
