package common

import (
	"context"
	"regexp"
	"time"
)

// RegexHit identifies which input a bounded regex search matched.
// Index is -1 when nothing matched.
type RegexHit struct {
	Text  string
	Index int
}

// Matched reports whether any input matched.
func (h RegexHit) Matched() bool {
	return h.Index >= 0
}

// MatchWithin runs re against each input in order and returns the first hit.
// It returns ErrRegexTimeout once budget elapses or ctx is done, whichever is
// first. The matching goroutine cannot be interrupted and finishes in the
// background; callers are never blocked past the deadline.
func MatchWithin(ctx context.Context, re *regexp.Regexp, budget time.Duration, inputs ...string) (RegexHit, error) {
	hit := RegexHit{Index: -1}
	err := RunWithin(ctx, budget, func() {
		hit = findFirst(re, inputs)
	})
	if err != nil {
		return RegexHit{Index: -1}, err
	}
	return hit, nil
}

// ScanWithin runs re against every input, without stopping at the first
// match, and fails with ErrRegexTimeout if the whole scan overruns budget.
func ScanWithin(ctx context.Context, re *regexp.Regexp, budget time.Duration, inputs ...string) error {
	return RunWithin(ctx, budget, func() {
		for _, input := range inputs {
			_ = re.MatchString(input)
		}
	})
}

// RunWithin runs fn on its own goroutine and waits at most budget for it.
// Results written by fn are only safe to read when RunWithin returns nil.
func RunWithin(ctx context.Context, budget time.Duration, fn func()) error {
	if budget <= 0 {
		fn()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrRegexTimeout
	}
}

func findFirst(re *regexp.Regexp, inputs []string) RegexHit {
	for i, input := range inputs {
		if input == "" {
			continue
		}
		if loc := re.FindStringIndex(input); loc != nil {
			return RegexHit{Index: i, Text: input[loc[0]:loc[1]]}
		}
	}
	return RegexHit{Index: -1}
}
