package auth

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrAccountExists = errors.New("account already exists")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

var usernamePattern = regexp.MustCompile(`^\w+$`)

// Store is the credential store behind /register and /login.
type Store interface {
	// VerifyCredentials reports whether password matches username. An unknown
	// username is (false, nil).
	VerifyCredentials(ctx context.Context, username, password string) (bool, error)
	// CreateAccount returns ErrAccountExists for a taken username.
	CreateAccount(ctx context.Context, username, password string) error
}

// ValidUsername accepts letters, digits and underscores.
func ValidUsername(u string) bool {
	return usernamePattern.MatchString(u)
}
