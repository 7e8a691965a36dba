package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightpath-edu/brightpath-auth/internal/platform/db"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	CreateUser(ctx context.Context, user *User) (int64, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	RecordFailedAttempt(ctx context.Context, userID int64, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginState(ctx context.Context, userID int64, loginAt time.Time) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	UpsertResetTicket(ctx context.Context, ticket ResetTicket) error
	FindValidTicket(ctx context.Context, token string, now time.Time) (*ResetTicket, error)
	RedeemTicket(ctx context.Context, ticket ResetTicket, passwordHash string) error
	DeleteExpiredTickets(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, role,
	failed_login_attempts, account_locked_until, last_login_at, created_at, updated_at`

// CreateUser inserts a new credential record and returns its id.
// A unique-violation on the email index is reported as ErrDuplicateUser.
func (r *PGRepository) CreateUser(ctx context.Context, user *User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, role)
		VALUES (LOWER($1), $2, $3, $4, $5)
		RETURNING id`,
		user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateUser
		}
		return 0, err
	}
	return id, nil
}

// FindByEmail fetches a user by case-insensitive email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// RecordFailedAttempt increments the failure counter and arms the lock once the
// counter reaches maxAttempts. The increment-and-compare is a single UPDATE so
// concurrent failures cannot lose updates.
func (r *PGRepository) RecordFailedAttempt(ctx context.Context, userID int64, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	var attempts int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    account_locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN $3
		        ELSE account_locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, account_locked_until`,
		userID, maxAttempts, lockUntil,
	).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrUserNotFound
		}
		return 0, nil, err
	}
	return attempts, lockedUntil, nil
}

// ResetLoginState clears the failure counter and lock and stamps the login time.
func (r *PGRepository) ResetLoginState(ctx context.Context, userID int64, loginAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = 0,
		    account_locked_until = NULL,
		    last_login_at = $2,
		    updated_at = NOW()
		WHERE id = $1`,
		userID, loginAt)
	return err
}

// UpdatePassword stores a new password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpsertResetTicket stores the pending ticket for a user, replacing any prior
// one. Concurrent requests race last-write-wins; only the newest token is honoured.
func (r *PGRepository) UpsertResetTicket(ctx context.Context, ticket ResetTicket) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET id = EXCLUDED.id,
		    token = EXCLUDED.token,
		    expires_at = EXCLUDED.expires_at,
		    created_at = NOW()`,
		ticket.ID, ticket.UserID, ticket.Token, ticket.ExpiresAt)
	return err
}

// FindValidTicket returns the ticket matching token with a future expiry.
func (r *PGRepository) FindValidTicket(ctx context.Context, token string, now time.Time) (*ResetTicket, error) {
	var ticket ResetTicket
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token, expires_at, created_at
		FROM password_reset_tokens
		WHERE token = $1 AND expires_at > $2`,
		token, now,
	).Scan(&ticket.ID, &ticket.UserID, &ticket.Token, &ticket.ExpiresAt, &ticket.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	return &ticket, nil
}

// RedeemTicket consumes a reset ticket and stores the new password hash in one
// transaction. The delete claims the ticket first; when a concurrent redemption
// already claimed it the whole operation fails with ErrInvalidOrExpiredToken.
func (r *PGRepository) RedeemTicket(ctx context.Context, ticket ResetTicket, passwordHash string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE id = $1`, ticket.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidOrExpiredToken
		}
		tag, err = tx.Exec(ctx, `
			UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
			ticket.UserID, passwordHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// DeleteExpiredTickets purges expired tickets. They are inert either way; this
// only reclaims rows for the retention sweep.
func (r *PGRepository) DeleteExpiredTickets(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Role, &user.FailedLoginAttempts, &user.AccountLockedUntil,
		&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
