package pattern

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Veraticus/spice-rules/internal/model"
)

// Similarity returns 1 - editDistance/maxLen for two normalized values.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// similarNeighbors returns the IDs of existing rules whose values are close
// to value but not identical. Closeness must strictly exceed threshold.
func similarNeighbors(value string, existing []model.Rule, threshold float64) []int64 {
	var ids []int64
	for _, rule := range existing {
		if rule.Value == value {
			continue
		}
		if Similarity(value, rule.Value) > threshold {
			ids = append(ids, rule.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
