package pattern

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

// dangerousShapes are source-level shapes that backtracking engines handle
// catastrophically. Some of them do not even parse under RE2; they are
// screened first so the user gets a precise reason.
var dangerousShapes = []struct {
	re   *regexp.Regexp
	name string
}{
	{
		name: "nested quantifier over a group",
		re:   regexp.MustCompile(`\([^()]*(?:[*+]|\{\d+,?\d*\})\)(?:[*+]|\{\d+,?\d*\})`),
	},
	{
		name: "repeated quantifier",
		re:   regexp.MustCompile(`(?:^|[^\\])[*+?][*+]`),
	},
	{
		name: "lookbehind assertion",
		re:   regexp.MustCompile(`\(\?<[=!]`),
	},
	{
		name: "consecutive bounded repeats",
		re:   regexp.MustCompile(`\{\d+(?:,\d*)?\}\s*(?:\{\d+(?:,\d*)?\}|[*+])`),
	},
}

// stressInputs are fed to every candidate regex under a deadline.
var stressInputs = []string{
	strings.Repeat("a", 4096) + "!",
	strings.Repeat("ab", 2048) + "\x00",
	strings.Repeat("WALMART SUPERCENTER #1234 ", 160),
	strings.Repeat("0123456789.,-", 300) + "x",
}

// Complexity weights.
const (
	weightQuantifier         = 2.0
	weightGroup              = 1.5
	weightAlternation        = 1.0
	weightCharClass          = 1.0
	weightAdjacentQuantifier = 10.0
)

// Complexity is the breakdown of a regex complexity score.
type Complexity struct {
	Quantifiers         int
	Groups              int
	Alternations        int
	CharClasses         int
	AdjacentQuantifiers int
}

// Score returns the weighted complexity.
func (c Complexity) Score() float64 {
	return float64(c.Quantifiers)*weightQuantifier +
		float64(c.Groups)*weightGroup +
		float64(c.Alternations)*weightAlternation +
		float64(c.CharClasses)*weightCharClass +
		float64(c.AdjacentQuantifiers)*weightAdjacentQuantifier
}

// MeasureComplexity scans a regex source and counts its structural features.
func MeasureComplexity(pattern string) Complexity {
	var c Complexity
	inClass := false
	prevQuantifier := false

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		quantifier := false

		switch {
		case ch == '\\':
			i++ // Skip the escaped character
		case inClass:
			if ch == ']' {
				inClass = false
			}
		case ch == '[':
			inClass = true
			c.CharClasses++
			// A leading ] or ^] is literal inside the class
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				i++
			}
			if i+1 < len(pattern) && pattern[i+1] == ']' {
				i++
			}
		case ch == '(':
			c.Groups++
		case ch == '|':
			c.Alternations++
		case ch == '*' || ch == '+':
			quantifier = true
		case ch == '?':
			// A ? after ( opens a group flag, after a quantifier it is lazy
			if i > 0 && pattern[i-1] == '(' {
				break
			}
			if prevQuantifier {
				prevQuantifier = false
				continue
			}
			quantifier = true
		case ch == '{':
			if end := boundedRepeatEnd(pattern, i); end > 0 {
				quantifier = true
				i = end
			}
		}

		if quantifier {
			c.Quantifiers++
			if prevQuantifier {
				c.AdjacentQuantifiers++
			}
		}
		prevQuantifier = quantifier
	}

	return c
}

// boundedRepeatEnd returns the index of the closing brace of a {n}, {n,} or
// {n,m} block starting at i, or -1 when the brace is a literal.
func boundedRepeatEnd(pattern string, i int) int {
	end := strings.IndexByte(pattern[i:], '}')
	if end < 0 {
		return -1
	}
	body := pattern[i+1 : i+end]
	lo, hi, found := strings.Cut(body, ",")
	if _, err := strconv.Atoi(lo); err != nil {
		return -1
	}
	if found && hi != "" {
		if _, err := strconv.Atoi(hi); err != nil {
			return -1
		}
	}
	return i + end
}

// screenRegexShape rejects sources that contain a known catastrophic shape,
// either textually or in the parsed syntax tree.
func screenRegexShape(pattern string) error {
	masked := maskCharClasses(pattern)
	for _, shape := range dangerousShapes {
		if shape.re.MatchString(masked) {
			return common.NewValidationError(common.ErrDangerousRegex, "value",
				"%s in %q", shape.name, pattern)
		}
	}

	tree, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return common.NewValidationError(common.ErrInvalidValue, "value",
			"regex does not compile: %v", err)
	}
	if hasNestedRepeat(tree, false) {
		return common.NewValidationError(common.ErrDangerousRegex, "value",
			"nested quantifier in %q", pattern)
	}

	return nil
}

// maskCharClasses blanks the body of every bracketed class so that
// metacharacters listed inside one, as in [*+], are not read as operators.
func maskCharClasses(pattern string) string {
	out := []byte(pattern)
	inClass := false
	classStart := 0
	for i := 0; i < len(out); i++ {
		c := out[i]
		if !inClass {
			switch c {
			case '\\':
				i++
			case '[':
				inClass = true
				classStart = i + 1
				if classStart < len(out) && out[classStart] == '^' {
					classStart++
				}
			}
			continue
		}

		switch {
		case c == '\\':
			out[i] = ' '
			if i+1 < len(out) {
				i++
				out[i] = ' '
			}
		case c == '[' && i+1 < len(out) && out[i+1] == ':':
			end := strings.Index(pattern[i+2:], ":]")
			if end < 0 {
				out[i] = ' '
				continue
			}
			for j := i; j < i+2+end+2; j++ {
				out[j] = ' '
			}
			i += 2 + end + 1
		case c == ']' && i > classStart:
			inClass = false
		default:
			out[i] = ' '
		}
	}
	return string(out)
}

// hasNestedRepeat reports whether an unbounded repetition occurs inside
// another repetition.
func hasNestedRepeat(re *syntax.Regexp, insideRepeat bool) bool {
	repeat := isUnboundedRepeat(re)
	if repeat && insideRepeat {
		return true
	}
	for _, sub := range re.Sub {
		if hasNestedRepeat(sub, insideRepeat || repeat || isRepeat(re)) {
			return true
		}
	}
	return false
}

func isRepeat(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		return true
	case syntax.OpRepeat:
		return re.Max == -1 || re.Max > 1
	}
	return false
}

func isUnboundedRepeat(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		return true
	case syntax.OpRepeat:
		return re.Max == -1
	}
	return false
}

// compileRule compiles a stored regex value for case-insensitive matching.
func compileRule(value string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(value, "(?i)") {
		value = "(?i)" + value
	}
	return regexp.Compile(value)
}

// screenRegex runs every regex gate in order: length, static shape,
// compilation, complexity and finally the timed stress run.
func screenRegex(ctx context.Context, raw string, opts Options) (Normalized, error) {
	value := strings.TrimSpace(raw)

	if value == "" {
		return Normalized{}, common.NewValidationError(common.ErrInvalidValue, "value", "regex cannot be empty")
	}
	if len(value) > opts.RegexMaxLength {
		return Normalized{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"regex is %d characters, maximum is %d", len(value), opts.RegexMaxLength)
	}

	if err := screenRegexShape(value); err != nil {
		return Normalized{}, err
	}

	re, err := compileRule(value)
	if err != nil {
		return Normalized{}, common.NewValidationError(common.ErrInvalidValue, "value",
			"regex does not compile: %v", err)
	}

	score := MeasureComplexity(value).Score()
	if score > opts.RegexMaxComplexity {
		return Normalized{}, common.NewValidationError(common.ErrRegexTooComplex, "value",
			"complexity %.1f exceeds limit %.1f", score, opts.RegexMaxComplexity)
	}

	if err := stressRegex(ctx, re, opts.RegexValidationBudget); err != nil {
		return Normalized{}, err
	}

	return Normalized{
		Value: value,
		Metadata: map[string]string{
			model.MetaComplexityScore: strconv.FormatFloat(score, 'f', 1, 64),
		},
	}, nil
}

// stressRegex executes re against the stress corpus within budget.
func stressRegex(ctx context.Context, re *regexp.Regexp, budget time.Duration) error {
	start := time.Now()
	err := common.ScanWithin(ctx, re, budget, stressInputs...)
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrRegexTimeout) {
		return common.NewValidationError(common.ErrRegexTimeout, "value",
			"stress test did not finish within %s (ran %s)", budget, time.Since(start).Round(time.Millisecond))
	}
	return fmt.Errorf("regex stress test: %w", err)
}
