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

const compositeColumns = `
	id, operator, category_id, confidence_weight,
	usage_count, success_count, origin, is_active,
	created_at, updated_at`

// CreateComposite stores a composite rule and its ordered components. Graph
// validation happens before this call; the store only checks that every
// component row exists.
func (s *SQLiteStorage) CreateComposite(ctx context.Context, composite *model.CompositeRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateComposite(composite); err != nil {
		return err
	}
	if composite.Origin == "" {
		composite.Origin = model.OriginUser
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := categoryIsActive(ctx, tx, composite.CategoryID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO pattern_rules (
				kind, operator, category_id, confidence_weight,
				origin, is_active, created_at, updated_at
			) VALUES ('composite', ?, ?, ?, ?, ?, ?, ?)`,
			composite.Operator, composite.CategoryID, composite.ConfidenceWeight,
			composite.Origin, composite.Active, formatTime(now), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to create composite rule: %w", mapSQLiteError(err))
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get composite rule ID: %w", err)
		}

		for position, componentID := range composite.Components {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO composite_components (composite_id, component_id, position)
				VALUES (?, ?, ?)`, id, componentID, position)
			if err != nil {
				return fmt.Errorf("failed to add component %d: %w", componentID, mapSQLiteError(err))
			}
		}

		composite.ID = id
		composite.CreatedAt = now
		composite.UpdatedAt = now
		composite.UsageCount = 0
		composite.SuccessCount = 0
		return nil
	})
}

// GetComposite retrieves a composite rule with its components.
func (s *SQLiteStorage) GetComposite(ctx context.Context, id int64) (*model.CompositeRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+compositeColumns+`
		FROM pattern_rules
		WHERE id = ? AND kind = 'composite'`, id)

	composite, err := scanComposite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("composite rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get composite rule: %w", err)
	}

	components, err := s.components(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	composite.Components = components[id]
	return composite, nil
}

// ActiveComposites returns all active composite rules ordered by ID.
func (s *SQLiteStorage) ActiveComposites(ctx context.Context) ([]model.CompositeRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryComposites(ctx, "WHERE kind = 'composite' AND is_active = 1")
}

// AllComposites returns every composite rule, including inactive ones.
func (s *SQLiteStorage) AllComposites(ctx context.Context) ([]model.CompositeRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryComposites(ctx, "WHERE kind = 'composite'")
}

func (s *SQLiteStorage) queryComposites(ctx context.Context, where string) ([]model.CompositeRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+compositeColumns+`
		FROM pattern_rules
		`+where+`
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query composite rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var composites []model.CompositeRule
	var ids []int64
	for rows.Next() {
		composite, err := scanComposite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composite rule: %w", err)
		}
		composites = append(composites, *composite)
		ids = append(ids, composite.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite rules: %w", err)
	}
	// Release the connection before the component query.
	_ = rows.Close()

	if len(ids) == 0 {
		return composites, nil
	}

	components, err := s.components(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range composites {
		composites[i].Components = components[composites[i].ID]
	}
	return composites, nil
}

// components loads the ordered component ids of the given composites.
func (s *SQLiteStorage) components(ctx context.Context, compositeIDs []int64) (map[int64][]int64, error) {
	wanted := make(map[int64]bool, len(compositeIDs))
	for _, id := range compositeIDs {
		wanted[id] = true
	}

	query := `
		SELECT composite_id, component_id
		FROM composite_components
		ORDER BY composite_id, position`
	args := []any{}
	if len(compositeIDs) == 1 {
		query = `
			SELECT composite_id, component_id
			FROM composite_components
			WHERE composite_id = ?
			ORDER BY position`
		args = append(args, compositeIDs[0])
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query composite components: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[int64][]int64, len(compositeIDs))
	for rows.Next() {
		var compositeID, componentID int64
		if err := rows.Scan(&compositeID, &componentID); err != nil {
			return nil, fmt.Errorf("failed to scan composite component: %w", err)
		}
		if wanted[compositeID] {
			result[compositeID] = append(result[compositeID], componentID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite components: %w", err)
	}
	return result, nil
}

func scanComposite(row scanner) (*model.CompositeRule, error) {
	var composite model.CompositeRule
	err := row.Scan(
		&composite.ID, &composite.Operator, &composite.CategoryID, &composite.ConfidenceWeight,
		&composite.UsageCount, &composite.SuccessCount, &composite.Origin, &composite.Active,
		&composite.CreatedAt, &composite.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &composite, nil
}
