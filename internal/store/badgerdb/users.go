package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/normalize"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

var errUserNotFound = store.ErrNotFound.WithMessage("user not found")

// CreateUser persists a new user. Emails are unique regardless of case.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return store.ErrInvalidInput.WithMessage("user id is required")
	}
	user.Email = normalize.Email(user.Email)

	if err := s.users.Create(ctx, user.ID, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.ErrAlreadyExists.WithMessage("email already registered")
		}
		return fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByIndex(ctx, "email", email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}
