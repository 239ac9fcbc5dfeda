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

const ruleColumns = `
	id, rule_type, value, category_id, confidence_weight,
	usage_count, success_count, origin, metadata, is_active,
	created_at, updated_at`

// CreateRule stores a new atomic rule and fills in its ID and timestamps.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	metadata, err := encodeMetadata(rule.Metadata)
	if err != nil {
		return err
	}
	if rule.Origin == "" {
		rule.Origin = model.OriginUser
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := categoryIsActive(ctx, tx, rule.CategoryID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO pattern_rules (
				kind, rule_type, value, category_id, confidence_weight,
				origin, metadata, is_active, created_at, updated_at
			) VALUES ('atomic', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.Type, rule.Value, rule.CategoryID, rule.ConfidenceWeight,
			rule.Origin, metadata, rule.Active, formatTime(now), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to create rule: %w", mapSQLiteError(err))
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule ID: %w", err)
		}

		rule.ID = id
		rule.CreatedAt = now
		rule.UpdatedAt = now
		rule.UsageCount = 0
		rule.SuccessCount = 0
		return nil
	})
}

// GetRule retrieves an atomic rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM pattern_rules
		WHERE id = ? AND kind = 'atomic'`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// UpdateRule rewrites the definition of an atomic rule. Counters and
// creation time are preserved.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	metadata, err := encodeMetadata(rule.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := categoryIsActive(ctx, tx, rule.CategoryID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE pattern_rules SET
				rule_type = ?, value = ?, category_id = ?, confidence_weight = ?,
				metadata = ?, is_active = ?, updated_at = ?
			WHERE id = ? AND kind = 'atomic'`,
			rule.Type, rule.Value, rule.CategoryID, rule.ConfidenceWeight,
			metadata, rule.Active, formatTime(now), rule.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", mapSQLiteError(err))
		}

		if err := expectOneRow(result, "rule", rule.ID); err != nil {
			return err
		}
		rule.UpdatedAt = now
		return nil
	})
}

// SetRuleActive activates or deactivates an atomic rule.
func (s *SQLiteStorage) SetRuleActive(ctx context.Context, id int64, active bool) error {
	return s.setActive(ctx, "atomic", id, active)
}

// SetCompositeActive activates or deactivates a composite rule.
func (s *SQLiteStorage) SetCompositeActive(ctx context.Context, id int64, active bool) error {
	return s.setActive(ctx, "composite", id, active)
}

func (s *SQLiteStorage) setActive(ctx context.Context, kind string, id int64, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE pattern_rules SET is_active = ?, updated_at = ?
		WHERE id = ? AND kind = ?`,
		active, formatTime(time.Now()), id, kind,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s rule: %w", kind, mapSQLiteError(err))
	}
	return expectOneRow(result, kind+" rule", id)
}

// DeleteRule removes an atomic or composite rule. A rule that some composite
// still lists as a component cannot be deleted.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var parents int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM composite_components WHERE component_id = ?", id).Scan(&parents)
		if err != nil {
			return fmt.Errorf("failed to check rule references: %w", err)
		}
		if parents > 0 {
			return fmt.Errorf("rule %d is used by %d composite rule(s): %w", id, parents, common.ErrRuleReferenced)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM pattern_rules WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete rule: %w", mapSQLiteError(err))
		}
		return expectOneRow(result, "rule", id)
	})
}

// RulesByCategory returns every atomic rule, active or not, of the given
// category and type.
func (s *SQLiteStorage) RulesByCategory(ctx context.Context, categoryID int64, ruleType model.RuleType) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM pattern_rules
		WHERE kind = 'atomic' AND category_id = ? AND rule_type = ?
		ORDER BY id`, categoryID, ruleType)
}

// ActiveRules returns all active atomic rules ordered by ID.
func (s *SQLiteStorage) ActiveRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM pattern_rules
		WHERE kind = 'atomic' AND is_active = 1
		ORDER BY id`)
}

// AllRules returns every atomic rule ordered by ID.
func (s *SQLiteStorage) AllRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM pattern_rules
		WHERE kind = 'atomic'
		ORDER BY id`)
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*model.Rule, error) {
	var (
		rule     model.Rule
		metadata sql.NullString
	)
	err := row.Scan(
		&rule.ID, &rule.Type, &rule.Value, &rule.CategoryID, &rule.ConfidenceWeight,
		&rule.UsageCount, &rule.SuccessCount, &rule.Origin, &metadata, &rule.Active,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func expectOneRow(result sql.Result, what string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", what, id, common.ErrNotFound)
	}
	return nil
}
