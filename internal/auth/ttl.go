package auth

import (
	"strconv"
	"time"
)

// DefaultTTL is used when a TTL string has an unknown unit or no leading number.
const DefaultTTL = time.Hour

// ParseTTL converts a token lifetime like "30s", "15m", "24h" or "7d" to a duration.
//
// The last character is the unit and the leading digits before it are the count
// ("1.5h" reads as 1h). Anything else falls back to DefaultTTL instead of
// failing, and so do counts beyond a century.
func ParseTTL(s string) time.Duration {
	if len(s) < 2 {
		return DefaultTTL
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return DefaultTTL
	}

	digits := s[:len(s)-1]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	if end == 0 {
		return DefaultTTL
	}

	n, err := strconv.ParseInt(digits[:end], 10, 64)
	if err != nil || n > int64(365*24*time.Hour/unit)*100 {
		return DefaultTTL
	}
	return time.Duration(n) * unit
}
