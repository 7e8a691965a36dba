package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence for security log entries.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	ForUser(ctx context.Context, userID int64, limit, offset int) ([]Entry, error)
	Stats(ctx context.Context, from, to time.Time) (Stats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends one entry.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	var userID any
	if entry.UserID != 0 {
		userID = entry.UserID
	}
	var ipHash, userAgent any
	if entry.IPHash != "" {
		ipHash = entry.IPHash
	}
	if entry.UserAgent != "" {
		userAgent = entry.UserAgent
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO security_audit_log (user_id, event_type, ip_hash, user_agent, details)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, entry.EventType, ipHash, userAgent, details)
	return err
}

const entryColumns = `id, COALESCE(user_id, 0), event_type, COALESCE(ip_hash, ''),
	COALESCE(user_agent, ''), details, occurred_at`

// Recent returns the newest entries across all users.
func (r *PGRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM security_audit_log
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ForUser returns the newest entries for one user.
func (r *PGRepository) ForUser(ctx context.Context, userID int64, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM security_audit_log
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Stats aggregates totals, per-event counts and unique users for a window.
func (r *PGRepository) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	stats := Stats{EventsByType: map[string]int64{}, From: from, To: to}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id)
		FROM security_audit_log
		WHERE occurred_at >= $1 AND occurred_at <= $2`,
		from, to,
	).Scan(&stats.TotalEvents, &stats.UniqueUsers)
	if err != nil {
		return Stats{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM security_audit_log
		WHERE occurred_at >= $1 AND occurred_at <= $2
		GROUP BY event_type
		ORDER BY COUNT(*) DESC`,
		from, to)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return Stats{}, err
		}
		stats.EventsByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// DeleteOlderThan removes entries past the retention horizon.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.EventType, &entry.IPHash,
			&entry.UserAgent, &details, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ Repository = (*PGRepository)(nil)
