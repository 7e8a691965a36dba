package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/brightpath-edu/brightpath-auth/internal/audit"
	"github.com/brightpath-edu/brightpath-auth/internal/auth"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendResetEmail delivers a password reset token by email.
	TaskTypeSendResetEmail = "auth:send_reset_email"
	// TaskTypeRetentionSweep prunes aged security log entries and expired
	// reset tickets.
	TaskTypeRetentionSweep = "audit:retention_sweep"
)

// SendResetEmailPayload describes a reset notification to deliver.
type SendResetEmailPayload struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// NewSendResetEmailTask constructs an Asynq task.
func NewSendResetEmailTask(payload SendResetEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendResetEmail, data), nil
}

// NewSendResetEmailHandler processes TaskTypeSendResetEmail tasks.
func NewSendResetEmailHandler(mailer *Mailer, resetURL string, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendResetEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		body := fmt.Sprintf(
			"A password reset was requested for your account.\r\n\r\n"+
				"Use this link within one hour: %s?token=%s\r\n\r\n"+
				"If you did not request a reset, ignore this message.\r\n",
			resetURL, payload.Token)
		if err := mailer.Send(payload.Email, "Reset your password", body); err != nil {
			return err
		}
		logger.Info("sent reset email", slog.String("email", payload.Email))
		return nil
	}
}

// NewRetentionSweepTask constructs the periodic cleanup task.
func NewRetentionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRetentionSweep, nil)
}

// NewRetentionSweepHandler deletes security log entries past the retention
// horizon and purges expired reset tickets. Live lockout state is untouched;
// lock expiry stays a lazy check at login time.
func NewRetentionSweepHandler(audits *audit.Service, tickets auth.Repository, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		deleted, err := audits.Purge(ctx, retention)
		if err != nil {
			return err
		}
		purged, err := tickets.DeleteExpiredTickets(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		logger.Info("retention sweep complete",
			slog.Int64("audit_deleted", deleted),
			slog.Int64("tickets_purged", purged))
		return nil
	}
}
