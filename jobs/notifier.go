package jobs

import (
	"context"

	"github.com/brightpath-edu/brightpath-auth/internal/auth"
)

// QueueNotifier dispatches reset notifications through the job queue so the
// HTTP request never waits on mail delivery.
type QueueNotifier struct {
	client *Client
}

// NewQueueNotifier constructs the notifier.
func NewQueueNotifier(client *Client) QueueNotifier {
	return QueueNotifier{client: client}
}

// SendResetNotification enqueues the delivery task.
func (n QueueNotifier) SendResetNotification(ctx context.Context, email, token string) error {
	_, err := n.client.EnqueueSendResetEmail(ctx, SendResetEmailPayload{Email: email, Token: token})
	return err
}

var _ auth.Notifier = QueueNotifier{}
