// Package archive implements user data exports: archive records, the
// background job that builds and uploads the export, and retention.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/async"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/blob"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/store"
)

// RetentionDays is how long a completed export stays downloadable.
const RetentionDays = 30

// Service implements data export operations.
type Service struct {
	archives store.ArchiveStore
	users    store.UserStore
	apps     store.AppStore
	blobs    blob.Store
	policy   *policy.Engine
	pool     *async.WorkerPool
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService wires the archive service. The pool carries the export jobs;
// it is owned by the caller and shut down with the process.
func NewService(archives store.ArchiveStore, users store.UserStore, apps store.AppStore,
	blobs blob.Store, engine *policy.Engine, pool *async.WorkerPool,
	logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		archives: archives,
		users:    users,
		apps:     apps,
		blobs:    blobs,
		policy:   engine,
		pool:     pool,
		logger:   logger,
		metrics:  metrics,
	}
}

// View is an archive with its uploaded parts.
type View struct {
	Archive *model.Archive
	Parts   []*model.ArchivePart
}

func (s *Service) resolveUser(ctx context.Context, claims *auth.Claims) (*model.User, *apierr.List) {
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NewStatus(apierr.UserNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("archive: user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	return user, nil
}

func (s *Service) loadArchive(ctx context.Context, id int64) (*model.Archive, *apierr.List) {
	archive, err := s.archives.GetArchiveByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.ArchiveNotFound)
		}
		s.logger.WithError(err).Error("archive: lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	return archive, nil
}

// Create starts an export of the token holder's data. The archive record
// is returned immediately; the export itself runs in the background and
// flips the record to completed when the upload is done.
func (s *Service) Create(ctx context.Context, claims *auth.Claims) (*model.Archive, *apierr.List) {
	user, errs := s.resolveUser(ctx, claims)
	if !errs.Empty() {
		return nil, errs
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionCreateArchive, actor, policy.Resource{OwnerUserID: user.ID}); !errs.Empty() {
		return nil, errs
	}

	archive := &model.Archive{
		UserID: user.ID,
		Name:   fmt.Sprintf("export-%s", time.Now().UTC().Format("20060102-150405")),
	}
	if err := s.archives.CreateArchive(ctx, archive); err != nil {
		s.logger.WithError(err).Error("archive: persist failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	s.metrics.ExportsStartedTotal.Inc()
	if err := s.pool.Submit(s.exportJob(archive.ID, user.ID)); err != nil {
		s.logger.WithError(err).WithField("archive_id", archive.ID).Error("archive: job submit failed")
	}

	return archive, nil
}

// Get returns an archive and its parts to its owner.
func (s *Service) Get(ctx context.Context, claims *auth.Claims, archiveID int64) (*View, *apierr.List) {
	if _, errs := s.resolveUser(ctx, claims); !errs.Empty() {
		return nil, errs
	}
	archive, errs := s.loadArchive(ctx, archiveID)
	if !errs.Empty() {
		return nil, errs
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionGetArchive, actor, policy.Resource{OwnerUserID: archive.UserID}); !errs.Empty() {
		return nil, errs
	}

	parts, err := s.archives.ListArchiveParts(ctx, archive.ID)
	if err != nil {
		s.logger.WithError(err).Error("archive: part list failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	return &View{Archive: archive, Parts: parts}, nil
}

// GetPart returns a single uploaded part with its download URL.
func (s *Service) GetPart(ctx context.Context, claims *auth.Claims, partID int64) (*model.ArchivePart, *apierr.List) {
	if _, errs := s.resolveUser(ctx, claims); !errs.Empty() {
		return nil, errs
	}

	part, err := s.archives.GetArchivePartByID(ctx, partID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.ArchivePartNotFound)
		}
		s.logger.WithError(err).Error("archive: part lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	archive, errs := s.loadArchive(ctx, part.ArchiveID)
	if !errs.Empty() {
		return nil, errs
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionGetArchivePart, actor, policy.Resource{OwnerUserID: archive.UserID}); !errs.Empty() {
		return nil, errs
	}
	return part, nil
}

// Delete removes an archive and its parts.
func (s *Service) Delete(ctx context.Context, claims *auth.Claims, archiveID int64) *apierr.List {
	if _, errs := s.resolveUser(ctx, claims); !errs.Empty() {
		return errs
	}
	archive, errs := s.loadArchive(ctx, archiveID)
	if !errs.Empty() {
		return errs
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionDeleteArchive, actor, policy.Resource{OwnerUserID: archive.UserID}); !errs.Empty() {
		return errs
	}

	if err := s.archives.DeleteArchive(ctx, archive.ID); err != nil {
		s.logger.WithError(err).Error("archive: delete failed")
		return apierr.NewStatus(apierr.UnknownValidationError, http.StatusInternalServerError)
	}
	return nil
}

// PruneOld removes archives past the retention window. Run on a schedule.
func (s *Service) PruneOld(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -RetentionDays)
	pruned, err := s.archives.DeleteArchivesOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune archives: %w", err)
	}
	if pruned > 0 {
		s.logger.WithField("count", pruned).Info("pruned expired archives")
	}
	return nil
}
