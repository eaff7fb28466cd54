package service

import "errors"

// Service errors. Handlers map each of these to a status code and label.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrAlreadyExists        = errors.New("resource already exists")
	ErrAlreadyDisabled      = errors.New("user already disabled")
	ErrAlreadyEnabled       = errors.New("user already enabled")
	ErrIncorrectRequest     = errors.New("incorrect request")
	ErrVerificationRequired = errors.New("account verification required")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrTokenExpired         = errors.New("token expired or revoked")
	ErrNoTokenProvided      = errors.New("no token provided")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidToken         = errors.New("invalid token")
	ErrUnsupportedProvider  = errors.New("unsupported oauth2 provider")
)
