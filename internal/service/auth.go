package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/id"
	"github.com/grimoireapp/grimoire-server/internal/normalize"
	"github.com/grimoireapp/grimoire-server/internal/store"
	"github.com/grimoireapp/grimoire-server/internal/validation"
)

const invalidCredentialsMessage = "invalid email or password"

// Credentials is the signup and login payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=1024"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// TokenIssuer issues identity tokens with the configured lifetime.
type TokenIssuer interface {
	IssueToken(identity auth.Identity) (string, error)
}

// AuthService handles signup and login.
type AuthService struct {
	store     UserStore
	tokens    TokenIssuer
	hasher    *auth.PasswordHasher
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time

	// dummyHash is verified against when the email is unknown, so a miss
	// costs as much as a wrong password.
	dummyHash string
}

// NewAuthService creates a new authentication service.
func NewAuthService(
	store UserStore,
	tokens TokenIssuer,
	hasher *auth.PasswordHasher,
	validator *validation.Validator,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dummy, err := hasher.Hash(id.MustGenerate("dummy"))
	if err != nil {
		logger.Warn("failed to prepare dummy password hash", "error", err)
	}
	return &AuthService{
		store:     store,
		tokens:    tokens,
		hasher:    hasher,
		validator: validator,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
	}
}

// Signup creates an account. Emails are unique regardless of case.
func (s *AuthService) Signup(ctx context.Context, creds Credentials) (*domain.User, error) {
	creds.Email = normalize.Email(creds.Email)
	if err := s.validator.Validate(&creds); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(creds.Password)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to hash password")
	}

	userID, err := id.Generate(id.PrefixUser)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to generate user id")
	}

	user := &domain.User{
		Record:       domain.Record{ID: userID},
		Email:        creds.Email,
		PasswordHash: passwordHash,
	}
	user.InitTimestamps(s.now())

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, errors.AlreadyExists("email already registered")
		}
		return nil, storeError(err, "failed to create user")
	}

	s.logger.Info("user signed up", "user_id", userID)
	return user, nil
}

// Login verifies credentials and issues a token. An unknown email and a wrong
// password fail identically.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	email := normalize.Email(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, errors.Validation("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, creds.Password)
			return nil, errors.InvalidCredentials(invalidCredentialsMessage)
		}
		return nil, storeError(err, "failed to look up user")
	}

	if !s.hasher.Verify(user.PasswordHash, creds.Password) {
		s.logger.Debug("login failed", "user_id", user.ID)
		return nil, errors.InvalidCredentials(invalidCredentialsMessage)
	}
	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.logger.Info("password hash uses outdated parameters", "user_id", user.ID)
	}

	token, err := s.tokens.IssueToken(auth.Identity{Subject: user.ID, Email: user.Email})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to issue token")
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return &LoginResult{UserID: user.ID, Token: token}, nil
}
