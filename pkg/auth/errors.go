package auth

import "errors"

var (
	ErrMissingSigningKey = errors.New("auth: missing signing key")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrExpiredToken      = errors.New("auth: token is expired")
	ErrInvalidSubject    = errors.New("auth: token subject is not a user id")
	ErrMissingToken      = errors.New("auth: missing bearer token")
)
