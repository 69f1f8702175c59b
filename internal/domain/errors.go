package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
	ErrInvalidRole        = errors.New("invalid role")
	ErrNotFound           = errors.New("record not found")
)
