package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"0s", 0},
		{"1.5h", time.Hour},
		{"90m", 90 * time.Minute},

		// Fallbacks keep the 1h default.
		{"5w", DefaultTTL},
		{"10", DefaultTTL},
		{"", DefaultTTL},
		{"h", DefaultTTL},
		{"abc", DefaultTTL},
		{"xh", DefaultTTL},
		{"-5m", DefaultTTL},
		{"99999999999999999999d", DefaultTTL},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTTL(tt.in))
		})
	}
}
