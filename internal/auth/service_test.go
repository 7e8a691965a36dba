package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryAuthRepo struct {
	mu      sync.Mutex
	users   map[int64]*User
	tickets map[int64]ResetTicket
	nextID  int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{
		users:   make(map[int64]*User),
		tickets: make(map[int64]ResetTicket),
	}
}

func (r *memoryAuthRepo) CreateUser(ctx context.Context, user *User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return 0, ErrDuplicateUser
		}
	}
	r.nextID++
	clone := *user
	clone.ID = r.nextID
	clone.CreatedAt = time.Now().UTC()
	clone.UpdatedAt = clone.CreatedAt
	r.users[clone.ID] = &clone
	return clone.ID, nil
}

func (r *memoryAuthRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memoryAuthRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *memoryAuthRepo) RecordFailedAttempt(ctx context.Context, userID int64, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return 0, nil, ErrUserNotFound
	}
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= maxAttempts {
		until := lockUntil
		user.AccountLockedUntil = &until
	}
	return user.FailedLoginAttempts, user.AccountLockedUntil, nil
}

func (r *memoryAuthRepo) ResetLoginState(ctx context.Context, userID int64, loginAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedLoginAttempts = 0
	user.AccountLockedUntil = nil
	at := loginAt
	user.LastLoginAt = &at
	return nil
}

func (r *memoryAuthRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (r *memoryAuthRepo) UpsertResetTicket(ctx context.Context, ticket ResetTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.CreatedAt = time.Now().UTC()
	r.tickets[ticket.UserID] = ticket
	return nil
}

func (r *memoryAuthRepo) FindValidTicket(ctx context.Context, token string, now time.Time) (*ResetTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.Token == token && ticket.ExpiresAt.After(now) {
			clone := ticket
			return &clone, nil
		}
	}
	return nil, ErrInvalidOrExpiredToken
}

func (r *memoryAuthRepo) RedeemTicket(ctx context.Context, ticket ResetTicket, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.UserID]
	if !ok || stored.ID != ticket.ID {
		return ErrInvalidOrExpiredToken
	}
	delete(r.tickets, ticket.UserID)
	user, ok := r.users[ticket.UserID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (r *memoryAuthRepo) DeleteExpiredTickets(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for userID, ticket := range r.tickets {
		if !ticket.ExpiresAt.After(cutoff) {
			delete(r.tickets, userID)
			deleted++
		}
	}
	return deleted, nil
}

var _ Repository = (*memoryAuthRepo)(nil)

type capturedEvents struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (c *capturedEvents) Record(ctx context.Context, event SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturedEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type capturedNotifier struct {
	mu     sync.Mutex
	emails []string
	tokens []string
}

func (n *capturedNotifier) SendResetNotification(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, email)
	n.tokens = append(n.tokens, token)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryAuthRepo, *capturedEvents, *capturedNotifier) {
	t.Helper()
	repo := newMemoryAuthRepo()
	events := &capturedEvents{}
	notifier := &capturedNotifier{}
	tokens := NewTokenIssuer("access-secret", "refresh-secret")
	svc := NewService(repo, tokens, events, notifier, nil, ServiceConfig{
		BcryptCost: bcrypt.MinCost,
	})
	return svc, repo, events, notifier
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _, events, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice@Example.com", "Password123!", "Alice", "Nguyen")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, RoleStudent, user.Role)

	logged, pair, err := svc.Login(ctx, "alice@example.com", "Password123!")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Zero(t, logged.FailedLoginAttempts)
	require.NotNil(t, logged.LastLoginAt)

	require.Equal(t, []string{EventUserRegistered, EventUserLoginSuccess}, events.types())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob@example.com", "Password123!", "Bob", "Lee")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "BOB@example.com", "Password456!", "Bobby", "Lee")
	require.ErrorIs(t, err, ErrDuplicateUser)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	// Unknown email and wrong password are indistinguishable.
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLockoutLifecycle(t *testing.T) {
	svc, repo, events, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice@example.com", "Password123!", "Alice", "Nguyen")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := svc.Login(ctx, "alice@example.com", "wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	types := events.types()
	require.Equal(t, EventAccountLocked, types[len(types)-1])
	for _, eventType := range types[1 : len(types)-1] {
		require.Equal(t, EventLoginFailed, eventType)
	}

	// Correct password while locked still fails, and not with the generic error.
	_, _, err = svc.Login(ctx, "alice@example.com", "Password123!")
	require.ErrorIs(t, err, ErrAccountLocked)

	// Simulate the lock window elapsing; expiry is only ever checked lazily
	// on the next attempt.
	repo.mu.Lock()
	past := time.Now().UTC().Add(-time.Minute)
	repo.users[user.ID].AccountLockedUntil = &past
	repo.mu.Unlock()

	logged, _, err := svc.Login(ctx, "alice@example.com", "Password123!")
	require.NoError(t, err)
	require.Zero(t, logged.FailedLoginAttempts)
	require.Nil(t, logged.AccountLockedUntil)
}

func TestChangePassword(t *testing.T) {
	svc, _, events, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "carol@example.com", "Password123!", "Carol", "Diaz")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "not-the-password", "NewPassword456!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, user.ID, "Password123!", "NewPassword456!")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "carol@example.com", "NewPassword456!")
	require.NoError(t, err)

	require.Contains(t, events.types(), EventPasswordChanged)
}

func TestRequestResetUnknownEmailIsUniform(t *testing.T) {
	svc, repo, events, notifier := newTestService(t)

	err := svc.RequestReset(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	require.Empty(t, repo.tickets)
	require.Empty(t, events.types())
	require.Empty(t, notifier.emails)
}

func TestRequestResetOverwritesTicket(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "dave@example.com", "Password123!", "Dave", "Kim")
	require.NoError(t, err)

	require.NoError(t, svc.RequestReset(ctx, "dave@example.com"))
	first := repo.tickets[user.ID]
	require.Len(t, first.Token, 64) // 32 bytes hex encoded
	require.WithinDuration(t, time.Now().UTC().Add(time.Hour), first.ExpiresAt, time.Minute)

	require.NoError(t, svc.RequestReset(ctx, "dave@example.com"))
	second := repo.tickets[user.ID]
	require.NotEqual(t, first.Token, second.Token)
	require.Len(t, repo.tickets, 1)

	require.Equal(t, []string{"dave@example.com", "dave@example.com"}, notifier.emails)
	require.Equal(t, []string{first.Token, second.Token}, notifier.tokens)
}

func TestResetPasswordSingleUse(t *testing.T) {
	svc, _, events, notifier := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "erin@example.com", "Password123!", "Erin", "Walsh")
	require.NoError(t, err)
	require.NoError(t, svc.RequestReset(ctx, "erin@example.com"))
	token := notifier.tokens[0]

	require.NoError(t, svc.ResetPassword(ctx, token, "FreshPassword789!"))
	_, _, err = svc.Login(ctx, "erin@example.com", "FreshPassword789!")
	require.NoError(t, err)

	// The ticket was deleted on redemption; a second use must fail.
	err = svc.ResetPassword(ctx, token, "AnotherPassword000!")
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	require.Contains(t, events.types(), EventPasswordResetCompleted)
}

func TestResetPasswordExpiredTicket(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "finn@example.com", "Password123!", "Finn", "Byrne")
	require.NoError(t, err)
	require.NoError(t, svc.RequestReset(ctx, "finn@example.com"))

	repo.mu.Lock()
	ticket := repo.tickets[user.ID]
	ticket.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	repo.tickets[user.ID] = ticket
	repo.mu.Unlock()

	err = svc.ResetPassword(ctx, notifier.tokens[0], "FreshPassword789!")
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestRefreshWithoutRotation(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "gina@example.com", "Password123!", "Gina", "Park")
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "gina@example.com", "Password123!")
	require.NoError(t, err)

	// No rotation: the same refresh token stays valid until its own expiry.
	first, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, first.AccessToken)

	second, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, second.AccessToken)

	_, err = svc.Refresh(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	// A refresh for a vanished subject is indistinguishable from a bad token.
	repo.mu.Lock()
	delete(repo.users, user.ID)
	repo.mu.Unlock()
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
