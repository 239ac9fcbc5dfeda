package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func TestNewSQLiteStorage_Memory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Migrate(context.Background()))
	assert.Equal(t, ":memory:", store.Path())

	cat, err := store.CreateCategory(context.Background(), "Groceries", "")
	require.NoError(t, err)
	assert.NotZero(t, cat.ID)
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStorage("  ")
	assert.ErrorIs(t, err, ErrEmptyString)
}

func TestSQLiteStorage_DataSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "rules.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	cat, err := store.CreateCategory(ctx, "Groceries", "")
	require.NoError(t, err)
	rule := &model.Rule{Type: model.RuleTypeKeyword, Value: "grocery", CategoryID: cat.ID, ConfidenceWeight: 0.7, Active: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	_, err = store.IncrementCounters(ctx, rule.ID, true)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.Migrate(ctx), "migrating twice is a no-op")

	got, err := reopened.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "grocery", got.Value)
	assert.Equal(t, int64(1), got.SuccessCount)
}

func TestSQLiteStorage_TimestampsRoundTrip(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Groceries", "")
	require.NoError(t, err)

	at := time.Date(2024, 3, 9, 23, 59, 58, 123456789, time.FixedZone("EST", -5*3600))
	rule := &model.Rule{Type: model.RuleTypeMerchant, Value: "walmart", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	require.NoError(t, store.SaveFeedback(ctx, &model.Feedback{
		ID:         "fb-1",
		RuleID:     &rule.ID,
		CategoryID: cat.ID,
		Outcome:    model.OutcomeCorrected,
		CreatedAt:  at,
	}))

	feedback, err := store.FeedbackForRule(ctx, rule.ID, 0)
	require.NoError(t, err)
	require.Len(t, feedback, 1)
	assert.True(t, feedback[0].CreatedAt.Equal(at), "got %v want %v", feedback[0].CreatedAt, at)
	assert.Equal(t, model.OutcomeCorrected, feedback[0].Outcome)
}

func TestSQLiteStorage_FeedbackForRuleNewestFirst(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Groceries", "")
	require.NoError(t, err)
	rule := &model.Rule{Type: model.RuleTypeMerchant, Value: "walmart", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	require.NoError(t, store.CreateRule(ctx, rule))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveFeedback(ctx, &model.Feedback{
			ID:         id,
			RuleID:     &rule.ID,
			CategoryID: cat.ID,
			Outcome:    model.OutcomeAccepted,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	feedback, err := store.FeedbackForRule(ctx, rule.ID, 2)
	require.NoError(t, err)
	require.Len(t, feedback, 2)
	assert.Equal(t, "c", feedback[0].ID)
	assert.Equal(t, "b", feedback[1].ID)
}

func TestSQLiteStorage_DeleteRuleKeepsFeedback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Groceries", "")
	require.NoError(t, err)
	rule := &model.Rule{Type: model.RuleTypeMerchant, Value: "walmart", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	require.NoError(t, store.SaveFeedback(ctx, &model.Feedback{
		ID:         "fb-1",
		RuleID:     &rule.ID,
		CategoryID: cat.ID,
		Outcome:    model.OutcomeRejected,
		CreatedAt:  time.Now(),
	}))

	require.NoError(t, store.DeleteRule(ctx, rule.ID))

	var (
		total  int
		orphan int
	)
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rule_feedback").Scan(&total))
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rule_feedback WHERE rule_id IS NULL").Scan(&orphan))
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, orphan)
}

func TestSQLiteStorage_DeleteCompositeRemovesComponents(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Transport", "")
	require.NoError(t, err)
	uber := &model.Rule{Type: model.RuleTypeMerchant, Value: "uber", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	lyft := &model.Rule{Type: model.RuleTypeMerchant, Value: "lyft", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	require.NoError(t, store.CreateRule(ctx, uber))
	require.NoError(t, store.CreateRule(ctx, lyft))

	composite := &model.CompositeRule{
		Operator:         model.OperatorOr,
		Components:       []int64{uber.ID, lyft.ID},
		CategoryID:       cat.ID,
		ConfidenceWeight: 0.9,
		Active:           true,
	}
	require.NoError(t, store.CreateComposite(ctx, composite))
	require.NoError(t, store.DeleteRule(ctx, composite.ID))

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM composite_components").Scan(&count))
	assert.Zero(t, count)
	assert.NoError(t, store.DeleteRule(ctx, uber.ID))
}

func TestSQLiteStorage_CountersNeverDecrease(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Groceries", "")
	require.NoError(t, err)
	rule := &model.Rule{Type: model.RuleTypeMerchant, Value: "walmart", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	_, err = store.IncrementCounters(ctx, rule.ID, true)
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, "UPDATE pattern_rules SET usage_count = 0 WHERE id = ?", rule.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counters never decrease")

	_, err = store.db.ExecContext(ctx, "UPDATE pattern_rules SET usage_count = usage_count + 5 WHERE id = ?", rule.ID)
	assert.NoError(t, err)
}

func TestSQLiteStorage_UpdateRuleKeepsCounters(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, "Groceries", "")
	require.NoError(t, err)
	rule := &model.Rule{Type: model.RuleTypeMerchant, Value: "walmart", CategoryID: cat.ID, ConfidenceWeight: 1, Active: true}
	require.NoError(t, store.CreateRule(ctx, rule))
	_, err = store.IncrementCounters(ctx, rule.ID, true)
	require.NoError(t, err)

	rule.Value = "wal-mart"
	rule.UsageCount = 0
	require.NoError(t, store.UpdateRule(ctx, rule))

	got, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, int64(1), got.SuccessCount)
}

func TestMapSQLiteError(t *testing.T) {
	tests := []struct {
		err  error
		want error
		name string
	}{
		{
			name: "busy",
			err:  sqlite3.Error{Code: sqlite3.ErrBusy},
			want: common.ErrCounterWriteConflict,
		},
		{
			name: "locked",
			err:  sqlite3.Error{Code: sqlite3.ErrLocked},
			want: common.ErrCounterWriteConflict,
		},
		{
			name: "unique",
			err:  sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique},
			want: common.ErrDuplicateEntry,
		},
		{
			name: "foreign key",
			err:  sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey},
			want: common.ErrNotFound,
		},
		{
			name: "corrupt",
			err:  sqlite3.Error{Code: sqlite3.ErrCorrupt},
			want: common.ErrDatabaseCorrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapSQLiteError(tt.err)
			assert.ErrorIs(t, got, tt.want)

			var sqliteErr sqlite3.Error
			assert.True(t, errors.As(got, &sqliteErr), "driver error stays reachable")
		})
	}

	plain := errors.New("boom")
	assert.Equal(t, plain, mapSQLiteError(plain))
}
