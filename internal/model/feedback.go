package model

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the user's verdict on a suggestion.
type Outcome string

// Outcome constants.
const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCorrected Outcome = "corrected"
)

// ParseOutcome converts a user supplied string into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case OutcomeAccepted, OutcomeRejected, OutcomeCorrected:
		return o, nil
	}
	return "", fmt.Errorf("unknown feedback outcome %q", s)
}

// IsSuccess reports whether the outcome counts as a successful firing.
func (o Outcome) IsSuccess() bool {
	return o == OutcomeAccepted
}

// Feedback records one user verdict. It is immutable once stored.
type Feedback struct {
	CreatedAt  time.Time
	RuleID     *int64 // nil when no rule fired
	ID         string
	Outcome    Outcome
	CategoryID int64
}

// Trend classifies how feedback volume for a rule is moving.
type Trend string

// Trend constants.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// RuleStatistics summarizes how a rule has performed.
type RuleStatistics struct {
	Trend          Trend   `json:"trend"`
	RuleID         int64   `json:"rule_id"`
	UsageCount     int64   `json:"usage_count"`
	SuccessCount   int64   `json:"success_count"`
	SuccessRate    float64 `json:"success_rate"`
	RecentFeedback int     `json:"recent_feedback"`
	PriorFeedback  int     `json:"prior_feedback"`
}
