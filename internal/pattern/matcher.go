package pattern

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// Ensure Matcher implements AtomicMatcher interface.
var _ AtomicMatcher = (*Matcher)(nil)

// Matcher evaluates atomic rules. Parsed rule values are cached by value so a
// long-lived Matcher compiles each regex once; it is safe for concurrent use.
type Matcher struct {
	compiledRegex sync.Map // value -> *regexp.Regexp
	amountRanges  sync.Map // value -> AmountRange
	timeSpecs     sync.Map // value -> TimeSpec
	opts          Options
}

// NewMatcher creates a new atomic rule matcher.
func NewMatcher(opts Options) *Matcher {
	return &Matcher{opts: opts.withDefaults()}
}

// NormalizeWeight maps a raw confidence weight into [0,1].
func NormalizeWeight(weight float64) float64 {
	switch {
	case weight <= 0:
		return 0
	case weight >= 1:
		return 1
	}
	return weight
}

// Match evaluates rule against txn. Malformed rules never match.
func (m *Matcher) Match(ctx context.Context, rule model.Rule, txn model.Transaction) model.MatchOutcome {
	var (
		matched bool
		reason  string
	)

	switch rule.Type {
	case model.RuleTypeMerchant:
		matched, reason = matchText(rule.Value, "merchant", txn.MerchantName)
	case model.RuleTypeKeyword:
		matched, reason = matchText(rule.Value, "merchant", txn.MerchantName)
		if !matched {
			matched, reason = matchText(rule.Value, "description", txn.Description)
		}
	case model.RuleTypeDescription:
		matched, reason = matchText(rule.Value, "description", txn.Description)
	case model.RuleTypeAmountRange:
		matched, reason = m.matchAmount(rule, txn)
	case model.RuleTypeTime:
		matched, reason = m.matchTime(rule, txn)
	case model.RuleTypeRegex:
		matched, reason = m.matchRegex(ctx, rule, txn)
	}

	if !matched {
		return model.NoMatch(rule.ID)
	}

	return model.MatchOutcome{
		RuleID:     rule.ID,
		Matched:    true,
		Confidence: NormalizeWeight(rule.ConfidenceWeight),
		Weight:     rule.ConfidenceWeight,
		Reason:     reason,
	}
}

// matchText is a case-insensitive substring test.
func matchText(value, field, text string) (bool, string) {
	if text == "" || value == "" {
		return false, ""
	}
	if !strings.Contains(strings.ToLower(text), strings.ToLower(value)) {
		return false, ""
	}
	return true, fmt.Sprintf("%s %q contains %q", field, text, value)
}

func (m *Matcher) matchAmount(rule model.Rule, txn model.Transaction) (bool, string) {
	r, ok := m.amountRange(rule.Value)
	if !ok || !r.Contains(txn.Amount) {
		return false, ""
	}
	return true, fmt.Sprintf("amount %s within %s", txn.Amount.StringFixed(2), r)
}

func (m *Matcher) matchTime(rule model.Rule, txn model.Transaction) (bool, string) {
	if txn.Date.IsZero() {
		return false, ""
	}
	spec, ok := m.timeSpec(rule.Value)
	if !ok || !spec.Contains(txn.Date) {
		return false, ""
	}
	return true, fmt.Sprintf("time %s on %s is %s",
		txn.Date.Format("15:04"), txn.Date.Weekday(), spec)
}

func (m *Matcher) matchRegex(ctx context.Context, rule model.Rule, txn model.Transaction) (bool, string) {
	re, err := m.regex(rule.Value)
	if err != nil {
		m.fault(ctx, rule, err, 0)
		return false, ""
	}

	start := time.Now()
	hit, err := common.MatchWithin(ctx, re, m.opts.RegexMatchBudget, txn.MerchantName, txn.Description)
	if err != nil {
		m.fault(ctx, rule, err, time.Since(start))
		return false, ""
	}
	if !hit.Matched() {
		return false, ""
	}

	field := "merchant"
	if hit.Index == 1 {
		field = "description"
	}
	return true, fmt.Sprintf("%s matches /%s/ at %q", field, rule.Value, hit.Text)
}

// fault logs a contained evaluation failure for a single rule.
func (m *Matcher) fault(ctx context.Context, rule model.Rule, err error, elapsed time.Duration) {
	fault := &common.EvaluationFault{
		RuleID:  rule.ID,
		Err:     err,
		Budget:  m.opts.RegexMatchBudget,
		Elapsed: elapsed,
	}
	common.LogWarn(ctx, "Rule evaluation fault, treating as no match", common.Fields{
		"rule_id":   rule.ID,
		"rule":      rule.Value,
		"error":     fault.Error(),
		"elapsed":   elapsed,
		"timed_out": errors.Is(err, common.ErrRegexTimeout),
	})
}

func (m *Matcher) regex(value string) (*regexp.Regexp, error) {
	if cached, ok := m.compiledRegex.Load(value); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := compileRule(value)
	if err != nil {
		return nil, err
	}
	actual, _ := m.compiledRegex.LoadOrStore(value, re)
	return actual.(*regexp.Regexp), nil
}

func (m *Matcher) amountRange(value string) (AmountRange, bool) {
	if cached, ok := m.amountRanges.Load(value); ok {
		return cached.(AmountRange), true
	}
	r, err := ParseAmountRange(value)
	if err != nil {
		return AmountRange{}, false
	}
	m.amountRanges.Store(value, r)
	return r, true
}

func (m *Matcher) timeSpec(value string) (TimeSpec, bool) {
	if cached, ok := m.timeSpecs.Load(value); ok {
		return cached.(TimeSpec), true
	}
	spec, err := ParseTimeSpec(value)
	if err != nil {
		return TimeSpec{}, false
	}
	m.timeSpecs.Store(value, spec)
	return spec, true
}
