package store_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grimoireapp/grimoire-server/internal/store"
)

func TestError_Error(t *testing.T) {
	err := &store.Error{Code: http.StatusNotFound, Message: "not found"}
	assert.Equal(t, "not found", err.Error())
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := store.ErrNotFound.WithCause(cause)

	assert.Contains(t, err.Error(), "resource not found")
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, cause, err.Unwrap())
}

func TestError_WithMessageKeepsIdentity(t *testing.T) {
	err := store.ErrNotFound.WithMessage("book not found")

	assert.Equal(t, "book not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.HTTPCode())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, err.WithCause(errors.New("x")), store.ErrNotFound)
}

func TestError_SentinelsWithSameCodeDiffer(t *testing.T) {
	assert.Equal(t, store.ErrAlreadyExists.Code, store.ErrConflict.Code)
	assert.NotErrorIs(t, store.ErrConflict, store.ErrAlreadyExists)
	assert.NotErrorIs(t, store.ErrAlreadyExists.WithMessage("dup"), store.ErrConflict)
}

func TestContextError(t *testing.T) {
	assert.NoError(t, store.ContextError(context.Background()))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.ContextError(canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, store.ErrTimeout)

	expired, cancel2 := context.WithTimeout(context.Background(), 0)
	defer cancel2()
	<-expired.Done()
	err = store.ContextError(expired)
	assert.ErrorIs(t, err, store.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
