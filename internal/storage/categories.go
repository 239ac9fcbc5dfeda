package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

const categoryColumns = `id, name, description, created_at, is_active`

// GetCategories returns all active categories.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE is_active = 1
		ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var cat model.Category
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Description, &cat.CreatedAt, &cat.Active); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, cat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "count", len(categories))
	return categories, nil
}

// GetCategoryByName returns an active category by its name.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE name = ? AND is_active = 1`

	return s.scanCategory(s.db.QueryRowContext(ctx, query, strings.TrimSpace(name)), name)
}

// GetCategoryByID returns a category by id, active or not.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE id = ?`

	return s.scanCategory(s.db.QueryRowContext(ctx, query, id), fmt.Sprintf("#%d", id))
}

func (s *SQLiteStorage) scanCategory(row *sql.Row, label string) (*model.Category, error) {
	var cat model.Category
	err := row.Scan(&cat.ID, &cat.Name, &cat.Description, &cat.CreatedAt, &cat.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", label, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}
	return &cat, nil
}

// CreateCategory creates a new category, or reactivates an inactive one with
// the same name.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, name, description string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	// Check if category already exists (including inactive ones)
	existingQuery := `
		SELECT ` + categoryColumns + `
		FROM categories
		WHERE name = ?`

	var existing model.Category
	err := s.db.QueryRowContext(ctx, existingQuery, name).Scan(
		&existing.ID, &existing.Name, &existing.Description, &existing.CreatedAt, &existing.Active,
	)

	switch {
	case err == nil:
		if !existing.Active {
			updateQuery := `UPDATE categories SET is_active = 1 WHERE id = ?`
			if _, err := s.db.ExecContext(ctx, updateQuery, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to reactivate category: %w", err)
			}
			existing.Active = true
			slog.Info("reactivated existing category", "name", name)
		}
		return &existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check existing category: %w", err)
	}

	insertQuery := `
		INSERT INTO categories (name, description, created_at, is_active)
		VALUES (?, ?, ?, 1)`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, insertQuery, name, description, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", mapSQLiteError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	category := &model.Category{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		Active:      true,
	}

	slog.Info("created new category", "name", name, "id", id)
	return category, nil
}

// categoryIsActive reports whether categoryID names an active category.
func categoryIsActive(ctx context.Context, q querier, categoryID int64) error {
	var active bool
	err := q.QueryRowContext(ctx, "SELECT is_active FROM categories WHERE id = ?", categoryID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("category #%d: %w", categoryID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to verify category: %w", err)
	}
	if !active {
		return fmt.Errorf("category #%d is inactive: %w", categoryID, common.ErrNotFound)
	}
	return nil
}

// querier is the subset of *sql.DB and *sql.Tx the helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
