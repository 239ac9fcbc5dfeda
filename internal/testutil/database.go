// Package testutil provides shared fixtures for tests that need a seeded
// pattern store.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
)

// CategoryName is a strongly typed category name used by fixtures.
type CategoryName string

// Common category names used across tests.
const (
	CategoryGroceries      CategoryName = "Groceries"
	CategoryFoodDining     CategoryName = "Food & Dining"
	CategoryShopping       CategoryName = "Shopping"
	CategoryTransportation CategoryName = "Transportation"
	CategoryGas            CategoryName = "Gas"
	CategoryEntertainment  CategoryName = "Entertainment"
)

// BasicCategories is the category set most tests start from.
var BasicCategories = []CategoryName{
	CategoryGroceries,
	CategoryFoodDining,
	CategoryShopping,
	CategoryTransportation,
}

// TestDB is a migrated, seeded store with helpers that fail the test on error.
type TestDB struct {
	Storage    service.PatternStore
	t          *testing.T
	categories map[CategoryName]model.Category
}

// TestDBOptions configures SetupTestDBWithOptions.
type TestDBOptions struct {
	CustomSetup func(context.Context, service.PatternStore) error
	Categories  []CategoryName
	InMemory    bool // use MemoryStorage instead of SQLite
}

// SetupTestDB creates an in-memory SQLite store seeded with the given
// categories. The store is closed when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.BasicCategories...)
//	groceries := db.MustCategory(testutil.CategoryGroceries)
func SetupTestDB(t *testing.T, cats ...CategoryName) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Categories: cats})
}

// SetupTestDBWithOptions creates a test store with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()
	ctx := context.Background()

	var store service.PatternStore
	if opts.InMemory {
		store = storage.NewMemoryStorage()
	} else {
		sqlStore, err := storage.NewSQLiteStorage(":memory:")
		if err != nil {
			t.Fatalf("failed to create test database: %v", err)
		}
		store = sqlStore
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	db := &TestDB{
		Storage:    store,
		t:          t,
		categories: make(map[CategoryName]model.Category, len(opts.Categories)),
	}
	for _, name := range opts.Categories {
		db.AddCategory(name)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return db
}

// AddCategory creates a category and remembers it for MustCategory.
func (db *TestDB) AddCategory(name CategoryName) model.Category {
	db.t.Helper()
	cat, err := db.Storage.CreateCategory(context.Background(), string(name), "Test category")
	if err != nil {
		db.t.Fatalf("failed to seed category %q: %v", name, err)
	}
	db.categories[name] = *cat
	return *cat
}

// MustCategory returns a seeded category or fails the test.
func (db *TestDB) MustCategory(name CategoryName) model.Category {
	db.t.Helper()
	cat, ok := db.categories[name]
	if !ok {
		db.t.Fatalf("category %q not found in test data", name)
	}
	return cat
}

// MustRule stores an active atomic rule with the given weight.
func (db *TestDB) MustRule(category CategoryName, ruleType model.RuleType, value string, weight float64) model.Rule {
	db.t.Helper()
	rule := &model.Rule{
		Type:             ruleType,
		Value:            value,
		CategoryID:       db.MustCategory(category).ID,
		ConfidenceWeight: weight,
		Active:           true,
	}
	if err := db.Storage.CreateRule(context.Background(), rule); err != nil {
		db.t.Fatalf("failed to create %s rule %q: %v", ruleType, value, err)
	}
	return *rule
}

// MustComposite stores an active composite rule.
func (db *TestDB) MustComposite(category CategoryName, op model.Operator, weight float64, components ...int64) model.CompositeRule {
	db.t.Helper()
	composite := &model.CompositeRule{
		Operator:         op,
		Components:       components,
		CategoryID:       db.MustCategory(category).ID,
		ConfidenceWeight: weight,
		Active:           true,
	}
	if err := db.Storage.CreateComposite(context.Background(), composite); err != nil {
		db.t.Fatalf("failed to create composite rule: %v", err)
	}
	return *composite
}
