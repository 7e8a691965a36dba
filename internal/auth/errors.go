package auth

import "errors"

var (
	// ErrDuplicateUser indicates the email is already registered.
	ErrDuplicateUser = errors.New("user already exists")
	// ErrInvalidCredentials covers both an unknown email and a wrong password;
	// callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account lockout window is still active.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken indicates a token failed signature or expiry verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidOrExpiredToken indicates a reset token that does not match any
	// live ticket.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrUserNotFound is internal; refresh surfaces it as ErrInvalidToken.
	ErrUserNotFound = errors.New("user not found")
)
