package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// resetTokenBytes is the entropy of a reset token before hex encoding.
const resetTokenBytes = 32

// Notifier dispatches the reset token to the account owner. The transport is
// outside this core; the worker queue provides the default implementation.
type Notifier interface {
	SendResetNotification(ctx context.Context, email, token string) error
}

// RequestReset starts the password reset flow. The outcome is identical
// whether or not the email is registered, so callers cannot probe for
// accounts. For a known user the pending ticket is overwritten with a fresh
// token and a one hour expiry.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := randomToken(resetTokenBytes)
	if err != nil {
		return err
	}

	ticket := ResetTicket{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.resetTTL),
	}
	if err := s.repo.UpsertResetTicket(ctx, ticket); err != nil {
		return err
	}

	s.record(ctx, user.ID, EventPasswordResetRequested, nil)

	if s.notifier != nil {
		if err := s.notifier.SendResetNotification(ctx, email, token); err != nil {
			s.logger.Warn("dispatch reset notification", slog.Any("error", err))
		}
	} else if s.devMode {
		s.logger.Debug("reset token issued", slog.String("email", email), slog.String("token", token))
	}
	return nil
}

// ResetPassword redeems a reset token. Redemption consumes the ticket
// atomically, so a second use of the same token fails with
// ErrInvalidOrExpiredToken even under concurrent requests.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	ticket, err := s.repo.FindValidTicket(ctx, token, time.Now().UTC())
	if err != nil {
		return err
	}

	hash, err := bcryptHash(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.repo.RedeemTicket(ctx, *ticket, hash); err != nil {
		return err
	}

	s.record(ctx, ticket.UserID, EventPasswordResetCompleted, nil)
	return nil
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
