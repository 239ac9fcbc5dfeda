package pattern

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// Text rule bounds, in runes after normalization.
const (
	minTextLength = 2
	maxTextLength = 255
)

// maxAmountSpan bounds how wide an amount range may be.
var maxAmountSpan = decimal.NewFromInt(10000)

// stopWords are too unspecific to identify a category on their own.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "by": true,
	"for": true, "from": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "the": true, "this": true, "that": true, "to": true,
	"with": true, "payment": true, "purchase": true, "transaction": true,
}

var (
	amountRangePattern = regexp.MustCompile(`^(-?\d+(?:\.\d{1,2})?)-(-?\d+(?:\.\d{1,2})?)$`)
	timeRangePattern   = regexp.MustCompile(`^(\d{1,2}):(\d{2})-(\d{1,2}):(\d{2})$`)
)

// normalizeText trims, collapses whitespace and lowercases a merchant,
// keyword or description value.
func normalizeText(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", common.NewValidationError(common.ErrInvalidValue, "value", "is not valid UTF-8")
	}

	trimmed := strings.TrimSpace(raw)

	// Tabs and newlines count too; only plain spaces separate words.
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", common.NewValidationError(common.ErrInvalidValue, "value",
				"contains control character %U", r)
		}
	}

	value := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))

	length := utf8.RuneCountInString(value)
	if length < minTextLength || length > maxTextLength {
		return "", common.NewValidationError(common.ErrInvalidValue, "value",
			"length must be between %d and %d characters, got %d", minTextLength, maxTextLength, length)
	}

	if stopWords[value] {
		return "", common.NewValidationError(common.ErrInvalidValue, "value",
			"%q is too generic to identify a category", value)
	}

	return value, nil
}

// AmountRange is an inclusive pair of signed amount bounds. Debits are
// negative, so a range over small charges reads -30.00--1.00.
type AmountRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether amount lies within the inclusive bounds.
func (r AmountRange) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.Min) && amount.LessThanOrEqual(r.Max)
}

// String renders the range in its normalized "min-max" form.
func (r AmountRange) String() string {
	return r.Min.StringFixed(2) + "-" + r.Max.StringFixed(2)
}

// ParseAmountRange parses a "<min>-<max>" value with up to two decimals.
func ParseAmountRange(raw string) (AmountRange, error) {
	compact := strings.Join(strings.Fields(raw), "")

	parts := amountRangePattern.FindStringSubmatch(compact)
	if parts == nil {
		return AmountRange{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"amount range must look like 10.00-50.00 or -50.00--10.00, got %q", raw)
	}

	minAmount, err := decimal.NewFromString(parts[1])
	if err != nil {
		return AmountRange{}, common.NewValidationError(common.ErrInvalidValue, "value", "invalid minimum %q", parts[1])
	}
	maxAmount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return AmountRange{}, common.NewValidationError(common.ErrInvalidValue, "value", "invalid maximum %q", parts[2])
	}

	if !minAmount.LessThan(maxAmount) {
		return AmountRange{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"minimum %s must be less than maximum %s", minAmount.StringFixed(2), maxAmount.StringFixed(2))
	}

	if maxAmount.Sub(minAmount).GreaterThan(maxAmountSpan) {
		return AmountRange{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"range %s-%s is too broad (span over %s)", minAmount.StringFixed(2), maxAmount.StringFixed(2), maxAmountSpan)
	}

	return AmountRange{Min: minAmount, Max: maxAmount}, nil
}

// TimeBucket is a named time-of-day or day-of-week bucket.
type TimeBucket string

// Time bucket vocabulary.
const (
	BucketMorning       TimeBucket = "morning"
	BucketAfternoon     TimeBucket = "afternoon"
	BucketEvening       TimeBucket = "evening"
	BucketNight         TimeBucket = "night"
	BucketWeekend       TimeBucket = "weekend"
	BucketWeekday       TimeBucket = "weekday"
	BucketBusinessHours TimeBucket = "business_hours"
	BucketAfterHours    TimeBucket = "after_hours"
)

var timeBuckets = map[TimeBucket]bool{
	BucketMorning: true, BucketAfternoon: true, BucketEvening: true, BucketNight: true,
	BucketWeekend: true, BucketWeekday: true, BucketBusinessHours: true, BucketAfterHours: true,
}

// TimeRange is an inclusive time-of-day range in minutes past midnight.
type TimeRange struct {
	Start int
	End   int
}

// Contains reports whether minute-of-day falls in the range.
func (r TimeRange) Contains(minute int) bool {
	return minute >= r.Start && minute <= r.End
}

// String renders the range as HH:MM-HH:MM.
func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}

// TimeSpec is either a named bucket or an explicit range.
type TimeSpec struct {
	Bucket TimeBucket
	Range  TimeRange
}

// String renders the normalized time value.
func (s TimeSpec) String() string {
	if s.Bucket != "" {
		return string(s.Bucket)
	}
	return s.Range.String()
}

// ParseTimeSpec parses a bucket name or an HH:MM-HH:MM range.
func ParseTimeSpec(raw string) (TimeSpec, error) {
	value := strings.ToLower(strings.Join(strings.Fields(raw), ""))

	if timeBuckets[TimeBucket(value)] {
		return TimeSpec{Bucket: TimeBucket(value)}, nil
	}

	parts := timeRangePattern.FindStringSubmatch(value)
	if parts == nil {
		return TimeSpec{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"time must be a known period or HH:MM-HH:MM, got %q", raw)
	}

	start, err := minuteOfDay(parts[1], parts[2])
	if err != nil {
		return TimeSpec{}, err
	}
	end, err := minuteOfDay(parts[3], parts[4])
	if err != nil {
		return TimeSpec{}, err
	}

	if start >= end {
		return TimeSpec{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"time range %q must start before it ends and may not wrap past midnight", raw)
	}

	return TimeSpec{Range: TimeRange{Start: start, End: end}}, nil
}

func minuteOfDay(hh, mm string) (int, error) {
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, common.NewValidationError(common.ErrInvalidValue, "value", "hour %q out of range", hh)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, common.NewValidationError(common.ErrInvalidValue, "value", "minute %q out of range", mm)
	}
	return hour*60 + minute, nil
}

// normalizeValue dispatches to the normalizer of each non-regex rule type.
func normalizeValue(ruleType model.RuleType, raw string) (string, error) {
	switch ruleType {
	case model.RuleTypeMerchant, model.RuleTypeKeyword, model.RuleTypeDescription:
		return normalizeText(raw)
	case model.RuleTypeAmountRange:
		r, err := ParseAmountRange(raw)
		if err != nil {
			return "", err
		}
		return r.String(), nil
	case model.RuleTypeTime:
		spec, err := ParseTimeSpec(raw)
		if err != nil {
			return "", err
		}
		return spec.String(), nil
	}
	return "", common.NewValidationError(common.ErrInvalidValue, "rule_type", "unsupported rule type %q", ruleType)
}
