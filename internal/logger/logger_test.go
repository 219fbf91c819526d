package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: "json", Level: slog.LevelInfo})

	log.Info("book created", "book_id", "book-123")

	assert.Contains(t, buf.String(), `"msg":"book created"`)
	assert.Contains(t, buf.String(), `"book_id":"book-123"`)
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}

func TestNew_FormatFromEnvironment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{"production uses json", "production", true},
		{"development uses pretty", "development", false},
		{"staging uses pretty", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Writer: &buf, Environment: tt.environment, Level: slog.LevelInfo})
			log.Info("hello")

			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"msg":"hello"`)
			} else {
				assert.Contains(t, buf.String(), "INF")
				assert.NotContains(t, buf.String(), `"msg"`)
			}
		})
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: "json", Level: slog.LevelWarn})

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "input %q", input)
	}
}

func TestPrettyHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.With("component", "books").WithGroup("req").Info("rated", "grade", 4)

	out := buf.String()
	assert.Contains(t, out, "rated")
	assert.Contains(t, out, "component=books")
	assert.Contains(t, out, "req.grade=4")
}

func TestPrettyHandler_QuotesStringsWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))

	log.Info("created", "title", "The Name of the Wind")

	assert.Contains(t, buf.String(), `title="The Name of the Wind"`)
}

func TestPrettyHandler_Enabled(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Writer: &buf, Format: "json", Level: slog.LevelInfo})

	log.WithComponent("auth").WithError(errors.New("boom")).Info("login failed")

	assert.Contains(t, buf.String(), `"component":"auth"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestContext(t *testing.T) {
	fallback := Discard().Logger
	scoped := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("returns fallback when unset", func(t *testing.T) {
		assert.Same(t, fallback, FromContext(context.Background(), fallback))
	})

	t.Run("returns scoped logger", func(t *testing.T) {
		ctx := NewContext(context.Background(), scoped)
		got := FromContext(ctx, fallback)
		require.NotNil(t, got)
		assert.Same(t, scoped, got)
	})
}
