package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/appmantle/appmantle/pkg/model"
)

// exportPayload is the data/data.json document inside the zip.
type exportPayload struct {
	ExportedAt time.Time        `json:"exported_at"`
	User       *model.User      `json:"user"`
	Apps       []*model.UserApp `json:"apps"`
}

// exportJob builds the zip for one archive and uploads it as a single
// part. Runs on the worker pool; the bound context comes from the pool.
func (s *Service) exportJob(archiveID, userID int64) func(context.Context) error {
	return func(ctx context.Context) error {
		started := time.Now()

		user, err := s.users.GetUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load user %d for export: %w", userID, err)
		}
		userApps, err := s.apps.ListUserApps(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list apps for export: %w", err)
		}

		content, err := s.buildZip(ctx, user, userApps)
		if err != nil {
			return fmt.Errorf("failed to build export zip: %w", err)
		}

		name := fmt.Sprintf("archive-%d.zip", archiveID)
		url, err := s.blobs.PutArchivePart(ctx, userID, name, content)
		if err != nil {
			return fmt.Errorf("failed to upload export: %w", err)
		}

		part := &model.ArchivePart{
			ArchiveID: archiveID,
			Name:      name,
			URL:       url,
			Completed: true,
		}
		if err := s.archives.CreateArchivePart(ctx, part); err != nil {
			return fmt.Errorf("failed to record export part: %w", err)
		}
		if err := s.archives.MarkArchiveCompleted(ctx, archiveID); err != nil {
			return fmt.Errorf("failed to complete archive %d: %w", archiveID, err)
		}

		s.metrics.ExportsCompletedTotal.Inc()
		s.metrics.ExportDuration.Observe(time.Since(started).Seconds())
		s.logger.WithFields(map[string]interface{}{
			"archive_id": archiveID,
			"user_id":    userID,
			"bytes":      len(content),
		}).Info("export completed")
		return nil
	}
}

func (s *Service) buildZip(ctx context.Context, user *model.User, userApps []*model.UserApp) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	payload, err := json.MarshalIndent(exportPayload{
		ExportedAt: time.Now().UTC(),
		User:       user,
		Apps:       userApps,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	w, err := zw.Create("data/data.json")
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}

	// The avatar is included when one exists; its absence is not an error.
	if user.AvatarEtag != "" {
		if reader, err := s.blobs.GetAvatar(ctx, user.ID); err == nil {
			aw, err := zw.Create("data/avatar")
			if err != nil {
				reader.Close()
				return nil, err
			}
			if _, err := io.Copy(aw, reader); err != nil {
				reader.Close()
				return nil, err
			}
			reader.Close()
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
