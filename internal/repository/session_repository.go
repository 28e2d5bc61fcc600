package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/presence-service/internal/domain"
)

// SessionRepository is the durable store for presence sessions. Every mutating
// method is a single atomic read-modify-write scoped to one user.
type SessionRepository interface {
	// Open closes any active session for the user at `at` and inserts a new active one.
	Open(ctx context.Context, userID int64, statusID int, at time.Time, info domain.ConnectInfo) (*domain.Session, error)
	// Close ends the active session. Returns (nil, nil) when the user has none.
	Close(ctx context.Context, userID int64, at time.Time) (*domain.Session, error)
	// UpdateStatus relabels the active session in place, or returns ErrNoActiveSession.
	UpdateStatus(ctx context.Context, userID int64, statusID int) (*domain.Session, error)
	// GetActive returns the active session or (nil, nil).
	GetActive(ctx context.Context, userID int64) (*domain.Session, error)
	ListActive(ctx context.Context) ([]domain.Session, error)
	// ListByUser returns the user's sessions, newest first.
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Session, error)
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a Postgres-backed implementation.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, status_id, connected_at, disconnected_at, source_address, device_name, is_active`

func (r *sessionRepository) Open(ctx context.Context, userID int64, statusID int, at time.Time, info domain.ConnectInfo) (*domain.Session, error) {
	session := &domain.Session{
		UserID:        userID,
		StatusID:      statusID,
		ConnectedAt:   at,
		SourceAddress: info.SourceAddress,
		DeviceName:    info.DeviceName,
		IsActive:      true,
	}

	err := r.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		const closeQuery = `
        UPDATE user_sessions SET is_active=FALSE, disconnected_at=$2
        WHERE user_id=$1 AND is_active`
		if _, err := tx.Exec(ctx, closeQuery, userID, at); err != nil {
			return err
		}

		const insertQuery = `
        INSERT INTO user_sessions (user_id, status_id, connected_at, source_address, device_name, is_active)
        VALUES ($1,$2,$3,$4,$5,TRUE)
        RETURNING id`
		return tx.QueryRow(ctx, insertQuery,
			userID,
			statusID,
			at,
			info.SourceAddress,
			info.DeviceName,
		).Scan(&session.ID)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepository) Close(ctx context.Context, userID int64, at time.Time) (*domain.Session, error) {
	const query = `
        UPDATE user_sessions SET is_active=FALSE, disconnected_at=$2
        WHERE user_id=$1 AND is_active
        RETURNING ` + sessionColumns

	var session *domain.Session
	err := r.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		var err error
		session, err = scanSession(tx.QueryRow(ctx, query, userID, at))
		if errors.Is(err, pgx.ErrNoRows) {
			session = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, userID int64, statusID int) (*domain.Session, error) {
	const query = `
        UPDATE user_sessions SET status_id=$2
        WHERE user_id=$1 AND is_active
        RETURNING ` + sessionColumns

	var session *domain.Session
	err := r.withUserLock(ctx, userID, func(tx pgx.Tx) error {
		var err error
		session, err = scanSession(tx.QueryRow(ctx, query, userID, statusID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoActiveSession
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// withUserLock runs fn in a transaction holding the user's advisory lock, so
// mutations for one user serialize while other users never contend.
func (r *sessionRepository) withUserLock(ctx context.Context, userID int64, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (r *sessionRepository) GetActive(ctx context.Context, userID int64) (*domain.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE user_id=$1 AND is_active`

	session, err := scanSession(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

func (r *sessionRepository) ListActive(ctx context.Context) ([]domain.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE is_active ORDER BY connected_at ASC, id ASC`
	return r.list(ctx, query)
}

func (r *sessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + sessionColumns + ` FROM user_sessions WHERE user_id=$1 ORDER BY connected_at DESC, id DESC LIMIT $2`
	return r.list(ctx, query, userID, limit)
}

func (r *sessionRepository) list(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *session)
	}
	return result, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var session domain.Session
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.StatusID,
		&session.ConnectedAt,
		&session.DisconnectedAt,
		&session.SourceAddress,
		&session.DeviceName,
		&session.IsActive,
	); err != nil {
		return nil, err
	}
	return &session, nil
}
