// Package learning records user feedback on suggestions and turns it into
// per-rule counters and trends.
package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// DefaultTrendWindow is the length of each of the two windows compared when
// computing a trend.
const DefaultTrendWindow = 7 * 24 * time.Hour

// Tracker writes feedback and reads rule statistics. It holds no state of its
// own; every counter lives in the store.
type Tracker struct {
	store  service.CounterStore
	now    func() time.Time
	newID  func() string
	retry  service.RetryOptions
	window time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithTrendWindow sets the window length used for trends.
func WithTrendWindow(window time.Duration) Option {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
	}
}

// WithRetryOptions controls how counter write conflicts are retried.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(t *Tracker) {
		t.retry = opts
	}
}

// NewTracker creates a tracker backed by store.
func NewTracker(store service.CounterStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		window: DefaultTrendWindow,
		retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFeedback stores one verdict and updates the rule's counters. When no
// rule fired (ruleID is nil) only the record is kept and nil statistics are
// returned.
func (t *Tracker) RecordFeedback(ctx context.Context, ruleID *int64, categoryID int64, outcome model.Outcome) (*model.RuleStatistics, error) {
	if _, err := model.ParseOutcome(string(outcome)); err != nil {
		return nil, common.NewValidationError(common.ErrInvalidValue, "outcome", "%v", err)
	}

	// Check the rule first so an unknown id leaves no orphaned feedback.
	if ruleID != nil {
		if _, err := t.store.GetCounters(ctx, *ruleID); err != nil {
			return nil, fmt.Errorf("failed to record feedback for rule %d: %w", *ruleID, err)
		}
	}

	feedback := &model.Feedback{
		ID:         t.newID(),
		RuleID:     ruleID,
		CategoryID: categoryID,
		Outcome:    outcome,
		CreatedAt:  t.now().UTC(),
	}

	if err := t.store.SaveFeedback(ctx, feedback); err != nil {
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}

	if ruleID == nil {
		common.LogDebug("Feedback recorded without a rule", common.Fields{
			"feedback_id": feedback.ID,
			"outcome":     outcome,
		})
		return nil, nil
	}

	var counters model.RuleCounters
	err := common.WithRetry(ctx, func() error {
		var incErr error
		counters, incErr = t.store.IncrementCounters(ctx, *ruleID, outcome.IsSuccess())
		return incErr
	}, t.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to update counters for rule %d: %w", *ruleID, err)
	}

	common.LogDebug("Feedback recorded", common.Fields{
		"feedback_id":   feedback.ID,
		"rule_id":       *ruleID,
		"outcome":       outcome,
		"usage_count":   counters.UsageCount,
		"success_count": counters.SuccessCount,
	})

	return t.statistics(ctx, *ruleID, counters)
}

// Statistics returns the counters, success rate and feedback trend of a rule.
func (t *Tracker) Statistics(ctx context.Context, ruleID int64) (*model.RuleStatistics, error) {
	counters, err := t.store.GetCounters(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get counters for rule %d: %w", ruleID, err)
	}
	return t.statistics(ctx, ruleID, counters)
}

func (t *Tracker) statistics(ctx context.Context, ruleID int64, counters model.RuleCounters) (*model.RuleStatistics, error) {
	now := t.now().UTC()
	recentStart := now.Add(-t.window)
	priorStart := recentStart.Add(-t.window)

	recent, err := t.store.CountFeedback(ctx, ruleID, recentStart, now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent feedback: %w", err)
	}
	prior, err := t.store.CountFeedback(ctx, ruleID, priorStart, recentStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior feedback: %w", err)
	}

	return &model.RuleStatistics{
		RuleID:         ruleID,
		UsageCount:     counters.UsageCount,
		SuccessCount:   counters.SuccessCount,
		SuccessRate:    counters.SuccessRate(),
		RecentFeedback: recent,
		PriorFeedback:  prior,
		Trend:          ClassifyTrend(recent, prior),
	}, nil
}

// ClassifyTrend compares feedback volume in the recent window with the one
// before it.
func ClassifyTrend(recent, prior int) model.Trend {
	switch {
	case recent > prior:
		return model.TrendIncreasing
	case recent < prior:
		return model.TrendDecreasing
	}
	return model.TrendStable
}
