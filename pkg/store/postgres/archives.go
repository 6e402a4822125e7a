package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/store"
)

// CreateArchive inserts an archive row for a new export job.
func (s *Store) CreateArchive(ctx context.Context, archive *model.Archive) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO archives (user_id, name, completed)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, archive.UserID, archive.Name, archive.Completed).
		Scan(&archive.ID, &archive.CreatedAt, &archive.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	return nil
}

// GetArchiveByID fetches an archive by primary key.
func (s *Store) GetArchiveByID(ctx context.Context, id int64) (*model.Archive, error) {
	archive := &model.Archive{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, completed, created_at, updated_at
		FROM archives WHERE id = $1
	`, id).Scan(&archive.ID, &archive.UserID, &archive.Name, &archive.Completed,
		&archive.CreatedAt, &archive.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	return archive, nil
}

// MarkArchiveCompleted flags an export job as finished.
func (s *Store) MarkArchiveCompleted(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE archives SET completed = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to complete archive: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete archive: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteArchive removes an archive and its parts.
func (s *Store) DeleteArchive(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM archives WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteArchivesOlderThan removes archives created before the cutoff.
func (s *Store) DeleteArchivesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM archives WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archives: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune archives: %w", err)
	}
	return affected, nil
}

// CreateArchivePart inserts a part row for an archive.
func (s *Store) CreateArchivePart(ctx context.Context, part *model.ArchivePart) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO archive_parts (archive_id, name, url, completed)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, part.ArchiveID, part.Name, part.URL, part.Completed).
		Scan(&part.ID, &part.CreatedAt, &part.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create archive part: %w", err)
	}
	return nil
}

// GetArchivePartByID fetches an archive part by primary key.
func (s *Store) GetArchivePartByID(ctx context.Context, id int64) (*model.ArchivePart, error) {
	part := &model.ArchivePart{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, archive_id, name, url, completed, created_at, updated_at
		FROM archive_parts WHERE id = $1
	`, id).Scan(&part.ID, &part.ArchiveID, &part.Name, &part.URL, &part.Completed,
		&part.CreatedAt, &part.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive part: %w", err)
	}
	return part, nil
}

// ListArchiveParts returns all parts of an archive in creation order.
func (s *Store) ListArchiveParts(ctx context.Context, archiveID int64) ([]*model.ArchivePart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, archive_id, name, url, completed, created_at, updated_at
		FROM archive_parts WHERE archive_id = $1
		ORDER BY id
	`, archiveID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive parts: %w", err)
	}
	defer rows.Close()

	parts := make([]*model.ArchivePart, 0)
	for rows.Next() {
		part := &model.ArchivePart{}
		if err := rows.Scan(&part.ID, &part.ArchiveID, &part.Name, &part.URL,
			&part.Completed, &part.CreatedAt, &part.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive part: %w", err)
		}
		parts = append(parts, part)
	}
	return parts, rows.Err()
}
