package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// IncrementCounters adds one usage, and one success when success is true, in
// a single statement so concurrent writers can never lose an update. Works
// for atomic and composite rules alike.
func (s *SQLiteStorage) IncrementCounters(ctx context.Context, ruleID int64, success bool) (model.RuleCounters, error) {
	if err := validateContext(ctx); err != nil {
		return model.RuleCounters{}, err
	}

	successDelta := 0
	if success {
		successDelta = 1
	}

	var counters model.RuleCounters
	err := s.db.QueryRowContext(ctx, `
		UPDATE pattern_rules
		SET usage_count = usage_count + 1,
			success_count = success_count + ?
		WHERE id = ?
		RETURNING usage_count, success_count`,
		successDelta, ruleID,
	).Scan(&counters.UsageCount, &counters.SuccessCount)

	if errors.Is(err, sql.ErrNoRows) {
		return model.RuleCounters{}, fmt.Errorf("rule %d: %w", ruleID, common.ErrNotFound)
	}
	if err != nil {
		return model.RuleCounters{}, fmt.Errorf("failed to increment counters: %w", mapSQLiteError(err))
	}
	return counters, nil
}

// GetCounters returns the current counters of a rule.
func (s *SQLiteStorage) GetCounters(ctx context.Context, ruleID int64) (model.RuleCounters, error) {
	if err := validateContext(ctx); err != nil {
		return model.RuleCounters{}, err
	}

	var counters model.RuleCounters
	err := s.db.QueryRowContext(ctx,
		"SELECT usage_count, success_count FROM pattern_rules WHERE id = ?", ruleID,
	).Scan(&counters.UsageCount, &counters.SuccessCount)

	if errors.Is(err, sql.ErrNoRows) {
		return model.RuleCounters{}, fmt.Errorf("rule %d: %w", ruleID, common.ErrNotFound)
	}
	if err != nil {
		return model.RuleCounters{}, fmt.Errorf("failed to get counters: %w", err)
	}
	return counters, nil
}

// SaveFeedback appends an immutable feedback record.
func (s *SQLiteStorage) SaveFeedback(ctx context.Context, feedback *model.Feedback) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFeedback(feedback); err != nil {
		return err
	}

	var ruleID sql.NullInt64
	if feedback.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *feedback.RuleID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_feedback (id, rule_id, category_id, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		feedback.ID, ruleID, feedback.CategoryID, feedback.Outcome, formatTime(feedback.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", mapSQLiteError(err))
	}
	return nil
}

// CountFeedback counts the feedback recorded for ruleID in [from, to).
func (s *SQLiteStorage) CountFeedback(ctx context.Context, ruleID int64, from, to time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if to.Before(from) {
		return 0, fmt.Errorf("%w: end %v is before start %v", ErrInvalidDateRange, to, from)
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rule_feedback
		WHERE rule_id = ? AND created_at >= ? AND created_at < ?`,
		ruleID, formatTime(from), formatTime(to),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}

// FeedbackForRule lists a rule's feedback, newest first.
func (s *SQLiteStorage) FeedbackForRule(ctx context.Context, ruleID int64, limit int) ([]model.Feedback, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, category_id, outcome, created_at
		FROM rule_feedback
		WHERE rule_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feedback []model.Feedback
	for rows.Next() {
		var (
			fb     model.Feedback
			ruleID sql.NullInt64
		)
		if err := rows.Scan(&fb.ID, &ruleID, &fb.CategoryID, &fb.Outcome, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if ruleID.Valid {
			id := ruleID.Int64
			fb.RuleID = &id
		}
		feedback = append(feedback, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback: %w", err)
	}
	return feedback, nil
}
