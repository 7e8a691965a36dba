package auth

import "time"

// User represents a stored credential record.
type User struct {
	ID                  int64
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	Role                string
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account lock is still active at the given instant.
// Expired locks are never cleared eagerly; they are only checked here on the
// next login attempt.
func (u *User) Locked(now time.Time) bool {
	return u.AccountLockedUntil != nil && now.Before(*u.AccountLockedUntil)
}

// Account roles known to the platform.
const (
	RoleStudent = "student"
	RoleParent  = "parent"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// TokenPair bundles the two credentials returned by a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ResetTicket is a single-use, time-boxed password reset authorisation.
// At most one ticket exists per user; a new request overwrites the old one.
type ResetTicket struct {
	ID        string
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Security event types recorded for authentication flows.
const (
	EventUserRegistered         = "USER_REGISTERED"
	EventUserLoginSuccess       = "USER_LOGIN_SUCCESS"
	EventLoginFailed            = "LOGIN_FAILED"
	EventAccountLocked          = "ACCOUNT_LOCKED"
	EventPasswordChanged        = "PASSWORD_CHANGED"
	EventPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetCompleted = "PASSWORD_RESET_COMPLETED"
)
