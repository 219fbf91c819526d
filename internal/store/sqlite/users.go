package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/normalize"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// userColumns is the ordered list of columns selected in user queries.
// Must match the scan order in scanUser.
const userColumns = `id, email, password_hash, created_at, updated_at`

var errUserNotFound = store.ErrNotFound.WithMessage("user not found")

func scanUser(scanner interface{ Scan(dest ...any) error }) (*domain.User, error) {
	var (
		u         domain.User
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. Emails are unique regardless of case.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return store.ErrInvalidInput.WithMessage("user id is required")
	}
	user.Email = normalize.Email(user.Email)

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (
		id, email, email_lower, password_hash, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Email,
		user.PasswordHash,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists.WithMessage("email already registered")
		}
		return queryError(ctx, "insert user", err)
	}

	s.logger.Info("user created", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUserWhere(ctx, "email_lower = ?", normalize.Email(email))
}

func (s *Store) getUserWhere(ctx context.Context, where string, arg any) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, queryError(ctx, "get user", err)
	}
	return user, nil
}
