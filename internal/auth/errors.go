package auth

import "errors"

var (
	// ErrUnauthenticated means the request carries no verified caller.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUserNotFound is returned by a Directory for unknown ids.
	ErrUserNotFound = errors.New("auth: user not found")
)
