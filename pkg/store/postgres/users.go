package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/store"
)

// Store implements the store interfaces on a shared *sql.DB.
type Store struct {
	db *sql.DB
}

// NewStore creates a postgres-backed store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, username, password_digest, confirmed,
	new_email, old_email, new_password_digest,
	email_confirmation_token, password_confirmation_token,
	plan, subscription_status, period_end, payment_customer_id,
	used_storage, last_active, avatar_etag, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordDigest, &user.Confirmed,
		&user.NewEmail, &user.OldEmail, &user.NewPasswordDigest,
		&user.EmailConfirmationToken, &user.PasswordConfirmationToken,
		&user.Plan, &user.SubscriptionStatus, &user.PeriodEnd, &user.PaymentCustomerID,
		&user.UsedStorage, &user.LastActive, &user.AvatarEtag, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// CreateUser inserts a user and fills in its ID and timestamps.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, username, password_digest, confirmed,
			new_email, old_email, new_password_digest,
			email_confirmation_token, password_confirmation_token,
			plan, subscription_status, payment_customer_id, used_storage, avatar_etag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`, user.Email, user.Username, user.PasswordDigest, user.Confirmed,
		user.NewEmail, user.OldEmail, user.NewPasswordDigest,
		user.EmailConfirmationToken, user.PasswordConfirmationToken,
		user.Plan, user.SubscriptionStatus, user.PaymentCustomerID,
		user.UsedStorage, user.AvatarEtag,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return scanUser(row)
}

// GetUserByPasswordConfirmationToken fetches the user holding a pending
// password reset token.
func (s *Store) GetUserByPasswordConfirmationToken(ctx context.Context, token string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE password_confirmation_token = $1 AND password_confirmation_token != ''`, token)
	return scanUser(row)
}

// UpdateUser writes back all mutable user fields.
func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			email = $1, username = $2, password_digest = $3, confirmed = $4,
			new_email = $5, old_email = $6, new_password_digest = $7,
			email_confirmation_token = $8, password_confirmation_token = $9,
			plan = $10, subscription_status = $11, period_end = $12,
			payment_customer_id = $13, used_storage = $14, last_active = $15,
			avatar_etag = $16, updated_at = NOW()
		WHERE id = $17
	`, user.Email, user.Username, user.PasswordDigest, user.Confirmed,
		user.NewEmail, user.OldEmail, user.NewPasswordDigest,
		user.EmailConfirmationToken, user.PasswordConfirmationToken,
		user.Plan, user.SubscriptionStatus, user.PeriodEnd,
		user.PaymentCustomerID, user.UsedStorage, user.LastActive,
		user.AvatarEtag, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user; dependent rows cascade.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// EmailTaken reports whether another user already holds the email.
func (s *Store) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE LOWER(email) = LOWER($1) AND id != $2`,
		email, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return count > 0, nil
}

// UsernameTaken reports whether another user already holds the username.
func (s *Store) UsernameTaken(ctx context.Context, username string, excludeID int64) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE LOWER(username) = LOWER($1) AND id != $2`,
		username, excludeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return count > 0, nil
}

// CountUsers returns total and confirmed account counts for gauges.
func (s *Store) CountUsers(ctx context.Context) (int64, int64, error) {
	var total, confirmed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE confirmed) FROM users`).Scan(&total, &confirmed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, confirmed, nil
}
