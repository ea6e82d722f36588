package readthrough

import (
	"strconv"
	"strings"
)

// MaxPageSize is the largest page size either provider accepts.
const MaxPageSize = 100

// ClampLimit coerces a caller-supplied page size. Non-numeric input and
// zero fall back to def, negatives become 1 and anything above
// MaxPageSize is capped.
func ClampLimit(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		n = 0
	}
	return ClampInt(n, def)
}

// ClampInt applies ClampLimit's rules to an integer.
func ClampInt(n, def int) int {
	if n == 0 {
		n = def
	}
	if n < 1 {
		n = 1
	}
	if n > MaxPageSize {
		n = MaxPageSize
	}
	return n
}

// ClampPage coerces a page number; anything non-numeric or below 1 is page 1.
func ClampPage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
