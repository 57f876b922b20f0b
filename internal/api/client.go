package api

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized is returned when the backend rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned when login credentials don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Client is the REST collaborator the session layer talks to. The session
// provider owns the token; every authenticated call receives it explicitly so
// the client itself stays stateless.
type Client interface {
	// Login exchanges credentials for a user and a bearer token.
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	// Logout invalidates the token server-side.
	Logout(ctx context.Context, token string) error
	// Me verifies the token and returns the profile behind it.
	Me(ctx context.Context, token string) (*User, error)
	// UpdateProfile applies a partial profile update and returns the result.
	UpdateProfile(ctx context.Context, token string, patch UserPatch) (*User, error)
}
