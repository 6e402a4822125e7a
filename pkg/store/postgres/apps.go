package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/store"
)

// GetAppByID fetches an app by primary key.
func (s *Store) GetAppByID(ctx context.Context, id int64) (*model.App, error) {
	app := &model.App{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, dev_id, name, description, published, created_at, updated_at
		FROM apps WHERE id = $1
	`, id).Scan(&app.ID, &app.DevID, &app.Name, &app.Description, &app.Published,
		&app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return app, nil
}

// GetUserApp fetches the association between a user and an app.
func (s *Store) GetUserApp(ctx context.Context, userID, appID int64) (*model.UserApp, error) {
	ua := &model.UserApp{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, app_id, used_storage, created_at, updated_at
		FROM users_apps WHERE user_id = $1 AND app_id = $2
	`, userID, appID).Scan(&ua.ID, &ua.UserID, &ua.AppID, &ua.UsedStorage,
		&ua.CreatedAt, &ua.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user app: %w", err)
	}
	return ua, nil
}

// CreateUserApp records that a user started using an app.
func (s *Store) CreateUserApp(ctx context.Context, userApp *model.UserApp) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users_apps (user_id, app_id, used_storage)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, app_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, userApp.UserID, userApp.AppID, userApp.UsedStorage).
		Scan(&userApp.ID, &userApp.CreatedAt, &userApp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user app: %w", err)
	}
	return nil
}

// DeleteUserApp removes a user's association with an app.
func (s *Store) DeleteUserApp(ctx context.Context, userID, appID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM users_apps WHERE user_id = $1 AND app_id = $2`, userID, appID)
	if err != nil {
		return fmt.Errorf("failed to delete user app: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user app: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListUserApps returns all app associations for a user.
func (s *Store) ListUserApps(ctx context.Context, userID int64) ([]*model.UserApp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, app_id, used_storage, created_at, updated_at
		FROM users_apps WHERE user_id = $1
		ORDER BY app_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user apps: %w", err)
	}
	defer rows.Close()

	apps := make([]*model.UserApp, 0)
	for rows.Next() {
		ua := &model.UserApp{}
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AppID, &ua.UsedStorage,
			&ua.CreatedAt, &ua.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user app: %w", err)
		}
		apps = append(apps, ua)
	}
	return apps, rows.Err()
}
