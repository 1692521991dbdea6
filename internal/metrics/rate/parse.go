package rate

import (
	"strconv"
	"strings"
)

// extractInts returns all integer substrings contained in s. Any non-digit
// characters are treated as separators. Missing or unparsable values result in
// an empty slice.
func extractInts(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// bannedUntil picks the epoch ms timestamp out of a ban message such as
// "Way too many requests; IP banned until 1735689600000.".
func bannedUntil(msg string) (int64, bool) {
	var until int64
	for _, n := range extractInts(msg) {
		// 13 digits: epoch milliseconds
		if n >= 1e12 && n < 1e13 && n > until {
			until = n
		}
	}
	return until, until > 0
}
