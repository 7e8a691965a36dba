package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 500
)

// Service coordinates security log writes and admin queries.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Record appends an entry best-effort. A failed write is reported through the
// application log only; it never fails the operation it is attached to.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("security log write failed",
			slog.String("event_type", entry.EventType),
			slog.Int64("user_id", entry.UserID),
			slog.Any("error", err))
	}
}

// Recent returns the newest entries across all users.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.repo.Recent(ctx, clampLimit(limit))
}

// ForUser returns the newest entries for one user.
func (s *Service) ForUser(ctx context.Context, userID int64, limit, offset int) ([]Entry, error) {
	if offset < 0 {
		offset = 0
	}
	return s.repo.ForUser(ctx, userID, clampLimit(limit), offset)
}

// WindowStats aggregates activity for a window, served from cache when warm.
func (s *Service) WindowStats(ctx context.Context, from, to time.Time) (Stats, error) {
	key := fmt.Sprintf("audit:stats:%d:%d", from.Unix(), to.Unix())
	var stats Stats
	err := s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
		return s.repo.Stats(ctx, from, to)
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Purge deletes entries older than the retention horizon and returns the count.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("purged security log entries",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
	return deleted, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
