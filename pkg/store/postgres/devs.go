package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/store"
)

const devColumns = `id, user_id, api_key, secret_key, uuid, created_at, updated_at`

func scanDev(row *sql.Row) (*model.Dev, error) {
	dev := &model.Dev{}
	err := row.Scan(&dev.ID, &dev.UserID, &dev.APIKey, &dev.SecretKey, &dev.UUID,
		&dev.CreatedAt, &dev.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dev: %w", err)
	}
	return dev, nil
}

// CreateDev inserts a dev with its issued key material.
func (s *Store) CreateDev(ctx context.Context, dev *model.Dev) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO devs (user_id, api_key, secret_key, uuid)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, dev.UserID, dev.APIKey, dev.SecretKey, dev.UUID).
		Scan(&dev.ID, &dev.CreatedAt, &dev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dev: %w", err)
	}
	return nil
}

// GetDevByID fetches a dev by primary key.
func (s *Store) GetDevByID(ctx context.Context, id int64) (*model.Dev, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+devColumns+` FROM devs WHERE id = $1`, id)
	return scanDev(row)
}

// GetDevByAPIKey fetches a dev by its public API key.
func (s *Store) GetDevByAPIKey(ctx context.Context, apiKey string) (*model.Dev, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+devColumns+` FROM devs WHERE api_key = $1`, apiKey)
	return scanDev(row)
}

// GetDevByUserID fetches the dev account owned by a user.
func (s *Store) GetDevByUserID(ctx context.Context, userID int64) (*model.Dev, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+devColumns+` FROM devs WHERE user_id = $1`, userID)
	return scanDev(row)
}

// UpdateDevKeys replaces a dev's key material during an explicit rotation.
func (s *Store) UpdateDevKeys(ctx context.Context, id int64, apiKey, secretKey, devUUID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE devs SET api_key = $1, secret_key = $2, uuid = $3, updated_at = NOW()
		WHERE id = $4
	`, apiKey, secretKey, devUUID, id)
	if err != nil {
		return fmt.Errorf("failed to rotate dev keys: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to rotate dev keys: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
