package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/store"
)

// CreateSession inserts a session and fills in its ID and timestamps.
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, app_id, exp, device_name, device_type, device_os)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, session.UserID, session.AppID, session.Exp,
		session.DeviceName, session.DeviceType, session.DeviceOS).
		Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByID fetches a session by primary key.
func (s *Store) GetSessionByID(ctx context.Context, id int64) (*model.Session, error) {
	session := &model.Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, app_id, exp, device_name, device_type, device_os, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&session.ID, &session.UserID, &session.AppID, &session.Exp,
		&session.DeviceName, &session.DeviceType, &session.DeviceOS,
		&session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session. Deleting an absent session returns
// store.ErrNotFound rather than succeeding silently.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions removes all sessions past their expiry.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE exp < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return affected, nil
}

// CountActiveSessions returns the number of unexpired sessions.
func (s *Store) CountActiveSessions(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE exp >= $1`, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}
