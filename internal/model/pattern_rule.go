// Package model defines the core data structures for the pattern engine.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RuleType identifies which grammar an atomic rule's value is written in.
type RuleType string

// Rule type constants.
const (
	RuleTypeMerchant    RuleType = "merchant"
	RuleTypeKeyword     RuleType = "keyword"
	RuleTypeDescription RuleType = "description"
	RuleTypeAmountRange RuleType = "amount_range"
	RuleTypeRegex       RuleType = "regex"
	RuleTypeTime        RuleType = "time"
)

// RuleTypes lists every supported rule type in display order.
var RuleTypes = []RuleType{
	RuleTypeMerchant,
	RuleTypeKeyword,
	RuleTypeDescription,
	RuleTypeAmountRange,
	RuleTypeRegex,
	RuleTypeTime,
}

// ParseRuleType converts a user supplied string into a RuleType.
func ParseRuleType(s string) (RuleType, error) {
	rt := RuleType(strings.ToLower(strings.TrimSpace(s)))
	if !rt.IsValid() {
		return "", fmt.Errorf("unknown rule type %q", s)
	}
	return rt, nil
}

// IsValid reports whether the rule type is one of the supported grammars.
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypeMerchant, RuleTypeKeyword, RuleTypeDescription,
		RuleTypeAmountRange, RuleTypeRegex, RuleTypeTime:
		return true
	}
	return false
}

// IsText reports whether the rule type matches free text by substring.
func (t RuleType) IsText() bool {
	return t == RuleTypeMerchant || t == RuleTypeKeyword || t == RuleTypeDescription
}

// Origin records who authored a rule.
type Origin string

// Origin constants.
const (
	OriginUser   Origin = "user"
	OriginSystem Origin = "system"
)

// DefaultConfidenceWeight is applied when a rule is created without a weight.
const DefaultConfidenceWeight = 1.0

// Metadata keys written by the validator.
const (
	MetaComplexityScore = "complexity_score"
	MetaSimilarRuleIDs  = "similar_rule_ids"
	MetaHighSimilarity  = "high_similarity"
)

// Rule is an atomic pattern that can match a transaction on its own.
type Rule struct {
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Type             RuleType          `json:"rule_type"`
	Value            string            `json:"value"`
	Origin           Origin            `json:"origin"`
	ID               int64             `json:"id"`
	CategoryID       int64             `json:"category_id"`
	ConfidenceWeight float64           `json:"confidence_weight"`
	UsageCount       int64             `json:"usage_count"`
	SuccessCount     int64             `json:"success_count"`
	Active           bool              `json:"active"`
}

// SuccessRate returns the fraction of firings the user accepted.
func (r *Rule) SuccessRate() float64 {
	return Counters(r.UsageCount, r.SuccessCount).SuccessRate()
}

// RuleCounters holds the feedback counters of a single rule.
type RuleCounters struct {
	UsageCount   int64 `json:"usage_count"`
	SuccessCount int64 `json:"success_count"`
}

// Counters builds a RuleCounters value.
func Counters(usage, success int64) RuleCounters {
	return RuleCounters{UsageCount: usage, SuccessCount: success}
}

// SuccessRate returns success/usage, or 0 when the rule has never fired.
func (c RuleCounters) SuccessRate() float64 {
	if c.UsageCount <= 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(c.UsageCount)
}
