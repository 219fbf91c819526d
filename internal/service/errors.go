package service

import (
	"context"

	"github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// storeError translates a store error into a domain error. Domain errors
// returned from inside a mutation callback pass through unchanged.
func storeError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		var storeErr *store.Error
		if errors.As(err, &storeErr) {
			return errors.NotFound(storeErr.Message).WithCause(err)
		}
		return errors.NotFound("not found").WithCause(err)
	case errors.Is(err, store.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errors.ErrTimeout.WithCause(err)
	case errors.Is(err, context.Canceled):
		return errors.ErrCanceled.WithCause(err)
	case errors.Is(err, store.ErrConflict):
		return errors.Conflict("the book is being modified concurrently, try again").WithCause(err)
	case errors.Is(err, store.ErrAlreadyExists):
		return errors.AlreadyExists(msg).WithCause(err)
	default:
		return errors.StorageFailure(err, msg)
	}
}

// coverError translates a cover processing or storage error.
func coverError(err error) error {
	if ctxErr := errors.FromContext(err); ctxErr != nil {
		return ctxErr
	}
	switch {
	case errors.Is(err, images.ErrTooLarge):
		return errors.Validation("image exceeds the maximum upload size").WithCause(err)
	case errors.Is(err, images.ErrUnsupported):
		return errors.Validation("image must be a JPEG, PNG, GIF or WebP file").WithCause(err)
	default:
		return errors.StorageFailure(err, "failed to store cover image")
	}
}
