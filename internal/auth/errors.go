package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// ErrInvalidToken indicates the token failed validation or its session ended.
var ErrInvalidToken = errors.New("invalid token")
