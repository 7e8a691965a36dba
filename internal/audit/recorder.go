package audit

import (
	"context"

	"github.com/brightpath-edu/brightpath-auth/internal/auth"
)

// Recorder adapts the audit service to the auth package's EventRecorder.
type Recorder struct {
	service *Service
}

// NewRecorder constructs the adapter.
func NewRecorder(service *Service) Recorder {
	return Recorder{service: service}
}

// Record forwards a security event into the log.
func (r Recorder) Record(ctx context.Context, event auth.SecurityEvent) {
	r.service.Record(ctx, Entry{
		UserID:    event.UserID,
		EventType: event.Type,
		IPHash:    event.IPHash,
		UserAgent: event.UserAgent,
		Details:   event.Details,
	})
}

var _ auth.EventRecorder = Recorder{}
