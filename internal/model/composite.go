package model

import (
	"fmt"
	"strings"
	"time"
)

// Operator combines component outcomes of a composite rule.
type Operator string

// Operator constants.
const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

// ParseOperator converts a user supplied string into an Operator.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToUpper(strings.TrimSpace(s)))
	if op != OperatorAnd && op != OperatorOr {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// CompositeRule is a boolean combination of atomic or composite rules.
// Components are ordered and reference rules by ID.
type CompositeRule struct {
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Operator         Operator  `json:"operator"`
	Origin           Origin    `json:"origin"`
	Components       []int64   `json:"component_rule_ids"`
	ID               int64     `json:"id"`
	CategoryID       int64     `json:"category_id"`
	ConfidenceWeight float64   `json:"confidence_weight"`
	UsageCount       int64     `json:"usage_count"`
	SuccessCount     int64     `json:"success_count"`
	Active           bool      `json:"active"`
}

// SuccessRate returns the fraction of firings the user accepted.
func (c *CompositeRule) SuccessRate() float64 {
	return Counters(c.UsageCount, c.SuccessCount).SuccessRate()
}

// References reports whether id is a direct component of the composite.
func (c *CompositeRule) References(id int64) bool {
	for _, component := range c.Components {
		if component == id {
			return true
		}
	}
	return false
}
