package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/grimoireapp/grimoire-server/internal/service"
)

func (s *Server) registerAuthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "signup",
		Method:        http.MethodPost,
		Path:          "/api/auth/signup",
		Summary:       "Create an account",
		Description:   "Registers a user with an email and a password of at least 6 characters.",
		Tags:          []string{"Authentication"},
		DefaultStatus: http.StatusCreated,
	}, s.handleSignup)

	huma.Register(s.api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/api/auth/login",
		Summary:     "Log in",
		Description: "Exchanges credentials for a bearer token.",
		Tags:        []string{"Authentication"},
	}, s.handleLogin)
}

// === DTOs ===

// CredentialsRequest is the signup and login body.
type CredentialsRequest struct {
	Email    string `json:"email" maxLength:"254" doc:"Email address"`
	Password string `json:"password" maxLength:"1024" doc:"Password"`
}

// CredentialsInput wraps the credentials for Huma.
type CredentialsInput struct {
	Body CredentialsRequest
}

// SignupResponse is returned by a successful signup.
type SignupResponse struct {
	Success bool   `json:"success" doc:"Always true"`
	Message string `json:"message" doc:"Confirmation message"`
	UserID  string `json:"userId" doc:"ID of the new user"`
}

// SignupOutput wraps the signup response for Huma.
type SignupOutput struct {
	Body SignupResponse
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Success bool   `json:"success" doc:"Always true"`
	UserID  string `json:"userId" doc:"Authenticated user ID"`
	Token   string `json:"token" doc:"Bearer token"`
}

// LoginOutput wraps the login response for Huma.
type LoginOutput struct {
	Body LoginResponse
}

// === Handlers ===

func (s *Server) handleSignup(ctx context.Context, input *CredentialsInput) (*SignupOutput, error) {
	user, err := s.services.Auth.Signup(ctx, service.Credentials(input.Body))
	if err != nil {
		return nil, s.apiError(ctx, err)
	}

	return &SignupOutput{Body: SignupResponse{
		Success: true,
		Message: "User created",
		UserID:  user.ID,
	}}, nil
}

func (s *Server) handleLogin(ctx context.Context, input *CredentialsInput) (*LoginOutput, error) {
	result, err := s.services.Auth.Login(ctx, service.Credentials(input.Body))
	if err != nil {
		return nil, s.apiError(ctx, err)
	}

	return &LoginOutput{Body: LoginResponse{
		Success: true,
		UserID:  result.UserID,
		Token:   result.Token,
	}}, nil
}
