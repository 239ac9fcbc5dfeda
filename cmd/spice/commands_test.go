package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/config"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rulepack"
	"github.com/Veraticus/spice-rules/internal/storage"
	"github.com/Veraticus/spice-rules/internal/testutil"
)

// useTempConfig points the commands at a fresh database for one test.
func useTempConfig(t *testing.T) {
	t.Helper()
	v := viper.New()
	v.Set("database.path", filepath.Join(t.TempDir(), "rules.db"))
	cfg, err := config.Load(v)
	require.NoError(t, err)

	previous := appConfig
	appConfig = cfg
	t.Cleanup(func() { appConfig = previous })
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_RuleWorkflow(t *testing.T) {
	useTempConfig(t)

	out, err := run(t, categoriesCmd(), "add", "Groceries")
	require.NoError(t, err)
	assert.Contains(t, out, `Category "Groceries"`)

	out, err = run(t, rulesCmd(), "add", "--type", "merchant", "--value", "  Whole   Foods ", "--category", "Groceries", "--weight", "0.9")
	require.NoError(t, err)
	assert.Contains(t, out, `"whole foods"`)

	_, err = run(t, rulesCmd(), "add", "--type", "merchant", "--value", "whole foods", "--category", "Groceries")
	assert.ErrorIs(t, err, common.ErrDuplicateRule)

	out, err = run(t, suggestCmd(), "--merchant", "WHOLE FOODS MARKET #10", "--amount", "-54.20")
	require.NoError(t, err)
	assert.Contains(t, out, "Groceries")

	out, err = run(t, feedbackCmd(), "--rule", "1", "--category", "Groceries", "--outcome", "accepted")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded accepted feedback")

	out, err = run(t, statsCmd(), "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Uses:         1")

	out, err = run(t, rulesCmd(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "whole foods")
	assert.Contains(t, out, "100%")
}

func TestCommands_ValidateRejectsDangerousRegex(t *testing.T) {
	useTempConfig(t)

	out, err := run(t, rulesCmd(), "validate", "time", " 09:00 - 17:30 ")
	require.NoError(t, err)
	assert.Contains(t, out, "09:00-17:30")

	_, err = run(t, rulesCmd(), "validate", "regex", "(a+)+$")
	assert.Error(t, err)

	_, err = run(t, rulesCmd(), "validate", "fuzzy", "x")
	assert.Error(t, err)
}

func TestCommands_DeleteRequiresForce(t *testing.T) {
	useTempConfig(t)

	_, err := run(t, categoriesCmd(), "add", "Groceries")
	require.NoError(t, err)
	_, err = run(t, rulesCmd(), "add", "-t", "keyword", "-v", "grocery", "-c", "Groceries")
	require.NoError(t, err)

	_, err = run(t, rulesCmd(), "delete", "1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "--force"))

	out, err := run(t, rulesCmd(), "delete", "1", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted rule 1")
}

func TestCommands_SeedAndExport(t *testing.T) {
	useTempConfig(t)

	out, err := run(t, rulesCmd(), "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported "+rulepack.SystemPack().Name)

	out, err = run(t, rulesCmd(), "export", "--name", "backup")
	require.NoError(t, err)
	pack, err := rulepack.Parse(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, pack.Rules, len(rulepack.SystemPack().Rules))

	out, err = run(t, compositesCmd(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "OR")
	assert.Contains(t, out, "AND")
}

func TestMigrate_Status(t *testing.T) {
	useTempConfig(t)

	out, err := run(t, migrateCmd(), "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0")

	_, err = run(t, migrateCmd())
	require.NoError(t, err)

	out, err = run(t, migrateCmd(), "--status")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Current version: %d", storage.ExpectedSchemaVersion))
	assert.NotContains(t, out, "Migrations pending")
}

func TestRankStatement(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, testutil.CategoryGroceries, testutil.CategoryShopping)
	db.MustRule(testutil.CategoryGroceries, model.RuleTypeMerchant, "whole foods", 1)
	db.MustRule(testutil.CategoryShopping, model.RuleTypeMerchant, "amazon", 0.8)
	eng := engine.New(db.Storage)

	txns := []model.Transaction{
		{ID: "1", MerchantName: "Whole Foods Market"},
		{ID: "2", MerchantName: "AMAZON.COM*RT4Y7HG2"},
		{ID: "3", MerchantName: "Corner Bodega"},
	}

	ticks := 0
	results, err := rankStatement(ctx, eng, txns, 1, func() { ticks++ })
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3, ticks)

	require.NotNil(t, results[0].top)
	assert.Equal(t, string(testutil.CategoryGroceries), results[0].top.Category)
	require.NotNil(t, results[1].top)
	assert.Equal(t, string(testutil.CategoryShopping), results[1].top.Category)
	assert.Nil(t, results[2].top)
	assert.Equal(t, "3", results[2].txn.ID)
}
