package validation_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/validation"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=1024"`
}

type bookRequest struct {
	Title string `json:"title" validate:"notblank,max=500"`
	Year  int    `json:"year" validate:"gte=0,notfuture"`
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
}

func TestValidator_Success(t *testing.T) {
	v := validation.New(validation.WithClock(fixedClock()))

	assert.NoError(t, v.Validate(signupRequest{Email: "reader@example.com", Password: "secret"}))
	assert.NoError(t, v.Validate(bookRequest{Title: "Dune", Year: 2024}))
	assert.NoError(t, v.Validate(bookRequest{Title: "Old", Year: 0}))
}

func TestValidator_Errors(t *testing.T) {
	v := validation.New(validation.WithClock(fixedClock()))

	tests := []struct {
		name    string
		req     any
		wantMsg string
	}{
		{"invalid email", signupRequest{Email: "nope", Password: "secret"}, "email must be a valid email address"},
		{"short password", signupRequest{Email: "a@b.co", Password: "abc"}, "password must be at least 6 characters"},
		{"blank title", bookRequest{Title: "   ", Year: 2000}, "title is required"},
		{"future year", bookRequest{Title: "Later", Year: 2025}, "year must not be in the future"},
		{"negative year", bookRequest{Title: "Before", Year: -1}, "year must be greater than or equal to 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domainerrors.ErrValidation)

			var derr *domainerrors.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.wantMsg, derr.Message)
			assert.NotNil(t, derr.Details)
		})
	}
}

func TestValidator_FirstFieldAlphabetical(t *testing.T) {
	v := validation.New()

	err := v.Validate(signupRequest{Email: "", Password: ""})
	require.Error(t, err)

	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.True(t, strings.HasPrefix(derr.Message, "email "))

	details, ok := derr.Details.(map[string]string)
	require.True(t, ok)
	assert.Len(t, details, 2)
}

func TestValidator_Var(t *testing.T) {
	v := validation.New()

	assert.NoError(t, v.Var("email", "x@y.io", "required,email"))

	err := v.Var("email", "bogus", "required,email")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}
