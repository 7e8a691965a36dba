package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultBcryptCost  = 12
	defaultMaxAttempts = 5
	defaultLockWindow  = 30 * time.Minute
	defaultResetTTL    = time.Hour
)

// SecurityEvent describes a security-relevant action for the audit trail.
type SecurityEvent struct {
	UserID    int64
	Type      string
	IPHash    string
	UserAgent string
	Details   map[string]any
}

// EventRecorder appends security events. Implementations are best-effort:
// Record never returns an error and must not fail the operation it is
// attached to.
type EventRecorder interface {
	Record(ctx context.Context, event SecurityEvent)
}

// ServiceConfig tunes authentication behaviour. Zero values keep the defaults.
type ServiceConfig struct {
	BcryptCost  int
	MaxAttempts int
	LockWindow  time.Duration
	ResetTTL    time.Duration
	// DevMode surfaces reset tokens in debug logs when no notification
	// channel is configured. Never enable in production.
	DevMode bool
}

// Service wraps authentication business rules: registration, login with
// failed-attempt lockout, password change, token refresh, and password reset.
type Service struct {
	repo        Repository
	tokens      *TokenIssuer
	events      EventRecorder
	notifier    Notifier
	logger      *slog.Logger
	bcryptCost  int
	maxAttempts int
	lockWindow  time.Duration
	resetTTL    time.Duration
	devMode     bool
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, events EventRecorder, notifier Notifier, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaultBcryptCost
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.LockWindow == 0 {
		cfg.LockWindow = defaultLockWindow
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		tokens:      tokens,
		events:      events,
		notifier:    notifier,
		logger:      logger,
		bcryptCost:  cfg.BcryptCost,
		maxAttempts: cfg.MaxAttempts,
		lockWindow:  cfg.LockWindow,
		resetTTL:    cfg.ResetTTL,
		devMode:     cfg.DevMode,
	}
}

// Register creates a new credential record. The email is stored lower-cased
// and must be unique; collisions return ErrDuplicateUser.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (*User, error) {
	email = normalizeEmail(email)

	// Hashing is deliberately slow; nothing is held across it.
	hash, err := bcryptHash(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         RoleStudent,
	}
	id, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		return nil, err
	}
	user.ID = id

	s.record(ctx, id, EventUserRegistered, map[string]any{"email": email})
	return user, nil
}

// Login verifies credentials and issues a token pair. Unknown emails and wrong
// passwords both return ErrInvalidCredentials. While a lock is active the
// password is not checked at all and ErrAccountLocked is returned; lock expiry
// is evaluated lazily here, never by a background sweep.
func (s *Service) Login(ctx context.Context, email, password string) (*User, TokenPair, error) {
	email = normalizeEmail(email)

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}

	now := time.Now().UTC()
	if user.Locked(now) {
		return nil, TokenPair{}, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		attempts, lockedUntil, regErr := s.repo.RecordFailedAttempt(ctx, user.ID, s.maxAttempts, now.Add(s.lockWindow))
		if regErr != nil {
			return nil, TokenPair{}, regErr
		}
		if attempts >= s.maxAttempts && lockedUntil != nil {
			s.record(ctx, user.ID, EventAccountLocked, map[string]any{
				"attempts":     attempts,
				"locked_until": lockedUntil.UTC().Format(time.RFC3339),
			})
		} else {
			s.record(ctx, user.ID, EventLoginFailed, map[string]any{"attempts": attempts})
		}
		return nil, TokenPair{}, ErrInvalidCredentials
	}

	if err := s.repo.ResetLoginState(ctx, user.ID, now); err != nil {
		return nil, TokenPair{}, err
	}
	user.FailedLoginAttempts = 0
	user.AccountLockedUntil = nil
	user.LastLoginAt = &now

	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, TokenPair{}, err
	}

	s.record(ctx, user.ID, EventUserLoginSuccess, nil)
	return user, pair, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcryptHash(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	s.record(ctx, userID, EventPasswordChanged, nil)
	return nil
}

// Refresh exchanges a valid refresh token for a fresh token pair. The exchange
// re-validates that the subject still exists. Rotation is not implemented: the
// presented refresh token stays valid until its own expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}

	return s.tokens.Issue(user)
}

// record appends a security event, attaching client metadata from the context.
// Logging failures never propagate to the caller; the recorder swallows them.
func (s *Service) record(ctx context.Context, userID int64, eventType string, details map[string]any) {
	if s.events == nil {
		return
	}
	client := ClientFromContext(ctx)
	s.events.Record(ctx, SecurityEvent{
		UserID:    userID,
		Type:      eventType,
		IPHash:    client.IPHash,
		UserAgent: client.UserAgent,
		Details:   details,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func bcryptHash(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
