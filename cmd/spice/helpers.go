package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/Veraticus/spice-rules/internal/storage"
)

// initStorage opens and migrates the configured rules database.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(appConfig.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine opens the store and builds an engine over it. The returned
// cleanup closes the store.
func initEngine(ctx context.Context) (*engine.Engine, *storage.SQLiteStorage, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	eng := engine.NewWithConfig(store, appConfig.EngineConfig())
	return eng, store, func() { _ = store.Close() }, nil
}

// resolveCategory accepts a category name or numeric id.
func resolveCategory(ctx context.Context, store service.CategoryStore, ref string) (*model.Category, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, common.NewUserError("a category is required", nil)
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if cat, err := store.GetCategoryByID(ctx, id); err == nil {
			return cat, nil
		}
	}

	cat, err := store.GetCategoryByName(ctx, ref)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewUserError(fmt.Sprintf("category %q does not exist; create it with 'spice categories add'", ref), err)
	}
	return cat, err
}

func categoryNames(ctx context.Context, store service.CategoryStore) (map[int64]string, error) {
	categories, err := store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	names := make(map[int64]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}
	return names, nil
}

func parseRuleID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewUserError(fmt.Sprintf("invalid rule ID: %s", arg), err)
	}
	return id, nil
}

func parseRuleIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := parseRuleID(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// transactionInput holds the suggest flags describing one record.
type transactionInput struct {
	Merchant    string
	Description string
	Amount      string
	Date        string
}

// Transaction builds the record, defaulting the date to now.
func (in transactionInput) Transaction(now time.Time) (model.Transaction, error) {
	txn := model.Transaction{
		MerchantName: in.Merchant,
		Description:  in.Description,
		Date:         now,
	}

	if strings.TrimSpace(in.Amount) != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
		if err != nil {
			return model.Transaction{}, common.NewUserError(fmt.Sprintf("invalid amount %q", in.Amount), err)
		}
		txn.Amount = amount
	}

	if date := strings.TrimSpace(in.Date); date != "" {
		parsed, err := parseDate(date, now.Location())
		if err != nil {
			return model.Transaction{}, err
		}
		txn.Date = parsed
	}

	if txn.MerchantName == "" && txn.Description == "" {
		return model.Transaction{}, common.NewUserError("provide --merchant or --description", nil)
	}
	return txn, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, common.NewUserError(fmt.Sprintf("invalid date %q (use YYYY-MM-DD or YYYY-MM-DD HH:MM)", s), nil)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
