// Package audit implements the append-only security event log.
package audit

import "time"

// Entry is one security log record. UserID zero means anonymous and is stored
// as NULL.
type Entry struct {
	ID         int64
	UserID     int64
	EventType  string
	IPHash     string
	UserAgent  string
	Details    map[string]any
	OccurredAt time.Time
}

// Stats summarises logged activity over a window.
type Stats struct {
	TotalEvents  int64            `json:"total_events"`
	EventsByType map[string]int64 `json:"events_by_type"`
	UniqueUsers  int64            `json:"unique_users"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
}
