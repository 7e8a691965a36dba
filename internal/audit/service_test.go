package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryAuditRepo struct {
	mu         sync.Mutex
	entries    []Entry
	nextID     int64
	insertErr  error
	statsCalls int
}

func (r *memoryAuditRepo) Insert(ctx context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.nextID++
	entry.ID = r.nextID
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryAuditRepo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryAuditRepo) ForUser(ctx context.Context, userID int64, limit, offset int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, entry := range r.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryAuditRepo) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsCalls++
	stats := Stats{EventsByType: map[string]int64{}, From: from, To: to}
	users := map[int64]struct{}{}
	for _, entry := range r.entries {
		if entry.OccurredAt.Before(from) || entry.OccurredAt.After(to) {
			continue
		}
		stats.TotalEvents++
		stats.EventsByType[entry.EventType]++
		if entry.UserID != 0 {
			users[entry.UserID] = struct{}{}
		}
	}
	stats.UniqueUsers = int64(len(users))
	return stats, nil
}

func (r *memoryAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []Entry
	var deleted int64
	for _, entry := range r.entries {
		if entry.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	r.entries = kept
	return deleted, nil
}

var _ Repository = (*memoryAuditRepo)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRecordNeverFails(t *testing.T) {
	repo := &memoryAuditRepo{insertErr: errors.New("connection refused")}
	svc := NewService(repo, nil, discardLogger())

	// Must not panic or surface the repo error in any way.
	svc.Record(context.Background(), Entry{UserID: 1, EventType: "LOGIN_FAILED"})
	require.Empty(t, repo.entries)

	repo.insertErr = nil
	svc.Record(context.Background(), Entry{UserID: 1, EventType: "LOGIN_FAILED"})
	require.Len(t, repo.entries, 1)
}

func TestRecentClampsLimit(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil, discardLogger())
	now := time.Now().UTC()
	for i := 0; i < 150; i++ {
		require.NoError(t, repo.Insert(context.Background(), Entry{
			UserID:     int64(i%3 + 1),
			EventType:  "USER_LOGIN_SUCCESS",
			OccurredAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := svc.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, defaultQueryLimit)

	entries, err = svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	// Newest first.
	require.True(t, entries[0].OccurredAt.After(entries[9].OccurredAt))

	entries, err = svc.Recent(context.Background(), 10_000)
	require.NoError(t, err)
	require.Len(t, entries, 150)
}

func TestForUserPagination(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil, discardLogger())
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(context.Background(), Entry{
			UserID:     7,
			EventType:  "LOGIN_FAILED",
			OccurredAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 8, EventType: "LOGIN_FAILED", OccurredAt: now}))

	entries, err := svc.ForUser(context.Background(), 7, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = svc.ForUser(context.Background(), 7, 10, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = svc.ForUser(context.Background(), 7, 10, -1)
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestWindowStatsUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memoryAuditRepo{}
	svc := NewService(repo, NewCache(client, time.Minute), discardLogger())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 1, EventType: "USER_LOGIN_SUCCESS", OccurredAt: now}))
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 1, EventType: "LOGIN_FAILED", OccurredAt: now}))
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 2, EventType: "LOGIN_FAILED", OccurredAt: now}))

	from, to := now.Add(-time.Hour), now.Add(time.Hour)
	stats, err := svc.WindowStats(context.Background(), from, to)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.TotalEvents)
	require.EqualValues(t, 2, stats.EventsByType["LOGIN_FAILED"])
	require.EqualValues(t, 2, stats.UniqueUsers)
	require.Equal(t, 1, repo.statsCalls)

	// Second query in the same window is a cache hit.
	stats, err = svc.WindowStats(context.Background(), from, to)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.TotalEvents)
	require.Equal(t, 1, repo.statsCalls)

	// A different window misses.
	_, err = svc.WindowStats(context.Background(), from.Add(time.Minute), to)
	require.NoError(t, err)
	require.Equal(t, 2, repo.statsCalls)
}

func TestWindowStatsWithoutRedis(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, NewCache(nil, time.Minute), discardLogger())

	now := time.Now().UTC()
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 1, EventType: "USER_REGISTERED", OccurredAt: now}))

	stats, err := svc.WindowStats(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalEvents)
	require.Equal(t, 1, repo.statsCalls)
}

func TestPurge(t *testing.T) {
	repo := &memoryAuditRepo{}
	svc := NewService(repo, nil, discardLogger())

	now := time.Now().UTC()
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 1, EventType: "LOGIN_FAILED", OccurredAt: now.Add(-100 * 24 * time.Hour)}))
	require.NoError(t, repo.Insert(context.Background(), Entry{UserID: 1, EventType: "LOGIN_FAILED", OccurredAt: now}))

	deleted, err := svc.Purge(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
	require.Len(t, repo.entries, 1)
}
