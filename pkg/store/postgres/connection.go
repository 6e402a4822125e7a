// Package postgres implements the store interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/appmantle/appmantle/pkg/config"
)

// Open connects to PostgreSQL with the configured pool settings and
// verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the platform tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(105) NOT NULL,
		username VARCHAR(25) NOT NULL,
		password_digest TEXT NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		new_email VARCHAR(105) NOT NULL DEFAULT '',
		old_email VARCHAR(105) NOT NULL DEFAULT '',
		new_password_digest TEXT NOT NULL DEFAULT '',
		email_confirmation_token VARCHAR(64) NOT NULL DEFAULT '',
		password_confirmation_token VARCHAR(64) NOT NULL DEFAULT '',
		plan INTEGER NOT NULL DEFAULT 0,
		subscription_status INTEGER NOT NULL DEFAULT 0,
		period_end TIMESTAMP WITH TIME ZONE,
		payment_customer_id VARCHAR(255) NOT NULL DEFAULT '',
		used_storage BIGINT NOT NULL DEFAULT 0,
		last_active TIMESTAMP WITH TIME ZONE,
		avatar_etag VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_ci ON users (LOWER(email));
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_ci ON users (LOWER(username));
	CREATE INDEX IF NOT EXISTS idx_users_password_token ON users (password_confirmation_token);

	CREATE TABLE IF NOT EXISTS devs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		api_key VARCHAR(64) NOT NULL UNIQUE,
		secret_key VARCHAR(64) NOT NULL,
		uuid VARCHAR(36) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS apps (
		id BIGSERIAL PRIMARY KEY,
		dev_id BIGINT NOT NULL REFERENCES devs(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS users_apps (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		app_id BIGINT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
		used_storage BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, app_id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		app_id BIGINT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
		exp TIMESTAMP WITH TIME ZONE NOT NULL,
		device_name VARCHAR(255) NOT NULL,
		device_type VARCHAR(255) NOT NULL,
		device_os VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_exp ON sessions (exp);

	CREATE TABLE IF NOT EXISTS archives (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS archive_parts (
		id BIGSERIAL PRIMARY KEY,
		archive_id BIGINT NOT NULL REFERENCES archives(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
