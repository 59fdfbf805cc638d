package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")
)
