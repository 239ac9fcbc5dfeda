package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/model"
)

// monday is 2024-01-15, a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 1, 15, hour, minute, 0, 0, time.UTC)
}

func txnWith(merchant, description, amount string, date time.Time) model.Transaction {
	return model.Transaction{
		ID:           "txn-1",
		MerchantName: merchant,
		Description:  description,
		Amount:       decimal.RequireFromString(amount),
		Date:         date,
	}
}

func TestMatcher_Match(t *testing.T) {
	ctx := context.Background()
	m := NewMatcher(DefaultOptions())

	tests := []struct {
		name        string
		rule        model.Rule
		txn         model.Transaction
		wantMatch   bool
		wantConf    float64
		wantReasons []string
	}{
		{
			name:        "merchant substring case insensitive",
			rule:        model.Rule{ID: 1, Type: model.RuleTypeMerchant, Value: "walmart", ConfidenceWeight: 1, Active: true},
			txn:         txnWith("WALMART SUPERCENTER #42", "", "25.00", monday(10, 0)),
			wantMatch:   true,
			wantConf:    1,
			wantReasons: []string{"merchant", "walmart"},
		},
		{
			name: "merchant ignores description",
			rule: model.Rule{ID: 1, Type: model.RuleTypeMerchant, Value: "walmart", ConfidenceWeight: 1},
			txn:  txnWith("Target", "bought at walmart", "25.00", monday(10, 0)),
		},
		{
			name:        "keyword falls back to description",
			rule:        model.Rule{ID: 2, Type: model.RuleTypeKeyword, Value: "coffee", ConfidenceWeight: 0.6},
			txn:         txnWith("SQ *BLUE BOTTLE", "Coffee and pastry", "6.50", monday(8, 0)),
			wantMatch:   true,
			wantConf:    0.6,
			wantReasons: []string{"description"},
		},
		{
			name:        "description match",
			rule:        model.Rule{ID: 3, Type: model.RuleTypeDescription, Value: "monthly fee", ConfidenceWeight: 0.9},
			txn:         txnWith("Bank", "MONTHLY FEE JAN", "12.00", monday(8, 0)),
			wantMatch:   true,
			wantConf:    0.9,
			wantReasons: []string{"description", "monthly fee"},
		},
		{
			name: "empty merchant never matches",
			rule: model.Rule{ID: 4, Type: model.RuleTypeMerchant, Value: "walmart", ConfidenceWeight: 1},
			txn:  txnWith("", "", "25.00", monday(8, 0)),
		},
		{
			name:        "weight above one is clamped",
			rule:        model.Rule{ID: 5, Type: model.RuleTypeMerchant, Value: "walmart", ConfidenceWeight: 2.0},
			txn:         txnWith("Walmart", "", "25.00", monday(8, 0)),
			wantMatch:   true,
			wantConf:    1,
			wantReasons: []string{"merchant"},
		},
		{
			name:        "regex on merchant",
			rule:        model.Rule{ID: 6, Type: model.RuleTypeRegex, Value: "^AMZN.*", ConfidenceWeight: 0.8},
			txn:         txnWith("amzn mktp us", "", "19.99", monday(8, 0)),
			wantMatch:   true,
			wantConf:    0.8,
			wantReasons: []string{"merchant", "/^AMZN.*/"},
		},
		{
			name:        "regex on description",
			rule:        model.Rule{ID: 7, Type: model.RuleTypeRegex, Value: "coffee|cafe", ConfidenceWeight: 0.5},
			txn:         txnWith("Corner Shop", "Cafe latte", "4.00", monday(8, 0)),
			wantMatch:   true,
			wantConf:    0.5,
			wantReasons: []string{"description"},
		},
		{
			name: "malformed regex never matches",
			rule: model.Rule{ID: 8, Type: model.RuleTypeRegex, Value: "(unclosed", ConfidenceWeight: 1},
			txn:  txnWith("(unclosed", "", "4.00", monday(8, 0)),
		},
		{
			name: "unknown rule type never matches",
			rule: model.Rule{ID: 9, Type: model.RuleType("vendor"), Value: "walmart", ConfidenceWeight: 1},
			txn:  txnWith("walmart", "", "4.00", monday(8, 0)),
		},
		{
			name:        "time bucket",
			rule:        model.Rule{ID: 10, Type: model.RuleTypeTime, Value: "evening", ConfidenceWeight: 0.7},
			txn:         txnWith("Uber", "", "14.00", monday(18, 30)),
			wantMatch:   true,
			wantConf:    0.7,
			wantReasons: []string{"18:30", "evening"},
		},
		{
			name: "time without date never matches",
			rule: model.Rule{ID: 11, Type: model.RuleTypeTime, Value: "evening", ConfidenceWeight: 0.7},
			txn:  txnWith("Uber", "", "14.00", time.Time{}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(ctx, tt.rule, tt.txn)
			assert.Equal(t, tt.rule.ID, got.RuleID)
			assert.Equal(t, tt.wantMatch, got.Matched)
			if !tt.wantMatch {
				assert.Zero(t, got.Confidence)
				assert.Empty(t, got.Reason)
				return
			}
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.rule.ConfidenceWeight, got.Weight)
			for _, want := range tt.wantReasons {
				assert.Contains(t, got.Reason, want)
			}
		})
	}
}

func TestMatcher_AmountBoundaries(t *testing.T) {
	ctx := context.Background()
	m := NewMatcher(DefaultOptions())
	rule := model.Rule{ID: 1, Type: model.RuleTypeAmountRange, Value: "10.00-50.00", ConfidenceWeight: 1}

	tests := []struct {
		amount string
		want   bool
	}{
		{"9.99", false},
		{"10.00", true},
		{"10", true},
		{"32.17", true},
		{"50.00", true},
		{"50.01", false},
		{"-25.00", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := m.Match(ctx, rule, txnWith("Anything", "", tt.amount, monday(12, 0)))
			assert.Equal(t, tt.want, got.Matched)
		})
	}
}

func TestMatcher_NegativeAmountsUseSignedValue(t *testing.T) {
	m := NewMatcher(DefaultOptions())
	rule := model.Rule{ID: 1, Type: model.RuleTypeAmountRange, Value: "0.00-100.00", ConfidenceWeight: 1}

	got := m.Match(context.Background(), rule, txnWith("Refund", "", "-20.00", monday(12, 0)))
	assert.False(t, got.Matched)
}

func TestMatcher_DebitRange(t *testing.T) {
	ctx := context.Background()
	m := NewMatcher(DefaultOptions())
	rule := model.Rule{ID: 1, Type: model.RuleTypeAmountRange, Value: "-30.00--1.00", ConfidenceWeight: 1}

	tests := []struct {
		amount string
		want   bool
	}{
		{"-30.01", false},
		{"-30.00", true},
		{"-9.99", true},
		{"-1.00", true},
		{"-0.99", false},
		{"9.99", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := m.Match(ctx, rule, txnWith("Anything", "", tt.amount, monday(12, 0)))
			assert.Equal(t, tt.want, got.Matched)
		})
	}
}

func TestTimeBucket_Contains(t *testing.T) {
	saturday := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		at     time.Time
		name   string
		bucket string
		want   bool
	}{
		{name: "morning start", bucket: "morning", at: monday(5, 0), want: true},
		{name: "morning before start", bucket: "morning", at: monday(4, 59), want: false},
		{name: "morning end", bucket: "morning", at: monday(11, 59), want: true},
		{name: "afternoon noon", bucket: "afternoon", at: monday(12, 0), want: true},
		{name: "afternoon end", bucket: "afternoon", at: monday(16, 59), want: true},
		{name: "evening at 14:00", bucket: "evening", at: monday(14, 0), want: false},
		{name: "evening start", bucket: "evening", at: monday(17, 0), want: true},
		{name: "evening end", bucket: "evening", at: monday(20, 59), want: true},
		{name: "night late", bucket: "night", at: monday(23, 30), want: true},
		{name: "night early", bucket: "night", at: monday(2, 0), want: true},
		{name: "night excludes morning", bucket: "night", at: monday(5, 0), want: false},
		{name: "weekend saturday", bucket: "weekend", at: saturday.Add(10 * time.Hour), want: true},
		{name: "weekend monday", bucket: "weekend", at: monday(10, 0), want: false},
		{name: "weekday monday", bucket: "weekday", at: monday(10, 0), want: true},
		{name: "business hours", bucket: "business_hours", at: monday(9, 0), want: true},
		{name: "business hours end", bucket: "business_hours", at: monday(17, 0), want: false},
		{name: "business hours saturday", bucket: "business_hours", at: saturday.Add(10 * time.Hour), want: false},
		{name: "after hours saturday", bucket: "after_hours", at: saturday.Add(10 * time.Hour), want: true},
		{name: "after hours evening", bucket: "after_hours", at: monday(19, 0), want: true},
		{name: "after hours midday", bucket: "after_hours", at: monday(13, 0), want: false},
		{name: "explicit range inside", bucket: "09:30-10:15", at: monday(10, 15), want: true},
		{name: "explicit range outside", bucket: "09:30-10:15", at: monday(10, 16), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseTimeSpec(tt.bucket)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.Contains(tt.at))
		})
	}
}

func TestNormalizeWeight(t *testing.T) {
	assert.InDelta(t, 0.0, NormalizeWeight(-1), 1e-9)
	assert.InDelta(t, 0.0, NormalizeWeight(0), 1e-9)
	assert.InDelta(t, 0.4, NormalizeWeight(0.4), 1e-9)
	assert.InDelta(t, 1.0, NormalizeWeight(1), 1e-9)
	assert.InDelta(t, 1.0, NormalizeWeight(2), 1e-9)
}

func TestMatcher_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	m := NewMatcher(DefaultOptions())
	rule := model.Rule{ID: 1, Type: model.RuleTypeRegex, Value: "^uber", ConfidenceWeight: 1}
	txn := txnWith("UBER TRIP", "", "12.00", monday(18, 0))

	done := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- m.Match(ctx, rule, txn).Matched
		}()
	}
	for i := 0; i < 8; i++ {
		assert.True(t, <-done)
	}
}
