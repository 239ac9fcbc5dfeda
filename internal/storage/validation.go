// Package storage provides the data persistence layer for the rule engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/spice-rules/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrInvalidRule      = errors.New("invalid rule")
	ErrInvalidComposite = errors.New("invalid composite rule")
	ErrInvalidFeedback  = errors.New("invalid feedback")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRule checks the storage level shape of an atomic rule. Grammar
// checks belong to the validator and have already run.
func validateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if !rule.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, rule.Type)
	}
	if strings.TrimSpace(rule.Value) == "" {
		return fmt.Errorf("%w: missing value", ErrInvalidRule)
	}
	if rule.CategoryID <= 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidRule)
	}
	if err := validateWeight(rule.ConfidenceWeight); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return nil
}

// validateComposite checks the storage level shape of a composite rule.
func validateComposite(composite *model.CompositeRule) error {
	if composite == nil {
		return fmt.Errorf("%w: composite", ErrNilParameter)
	}
	if composite.Operator != model.OperatorAnd && composite.Operator != model.OperatorOr {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidComposite, composite.Operator)
	}
	if len(composite.Components) < 2 {
		return fmt.Errorf("%w: needs at least two components", ErrInvalidComposite)
	}
	if composite.CategoryID <= 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidComposite)
	}
	if err := validateWeight(composite.ConfidenceWeight); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidComposite, err)
	}
	return nil
}

// validateFeedback validates a feedback record.
func validateFeedback(feedback *model.Feedback) error {
	if feedback == nil {
		return fmt.Errorf("%w: feedback", ErrNilParameter)
	}
	if strings.TrimSpace(feedback.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFeedback)
	}
	if _, err := model.ParseOutcome(string(feedback.Outcome)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFeedback, err)
	}
	if feedback.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidFeedback)
	}
	return nil
}

func validateWeight(weight float64) error {
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("confidence weight %v must be a non-negative number", weight)
	}
	return nil
}
