// Package app manages the association between users and the apps they
// use, including a user's removal of an app and its stored data.
package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/notify"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/store"
)

// Service implements user-app association operations.
type Service struct {
	apps     store.AppStore
	users    store.UserStore
	devs     store.DevStore
	policy   *policy.Engine
	notifier *notify.Dispatcher
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService wires the app service.
func NewService(apps store.AppStore, users store.UserStore, devs store.DevStore,
	engine *policy.Engine, notifier *notify.Dispatcher,
	logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		apps:     apps,
		users:    users,
		devs:     devs,
		policy:   engine,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *Service) resolveActor(ctx context.Context, claims *auth.Claims) (*model.User, *apierr.List) {
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NewStatus(apierr.UserNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("actor: user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	if _, err := s.devs.GetDevByID(ctx, claims.DevID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NewStatus(apierr.DevNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("actor: dev lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	return user, nil
}

// RemoveApp severs the token holder's association with an app and releases
// the storage the app held for them. Removing an app that was never in use
// succeeds without effect.
func (s *Service) RemoveApp(ctx context.Context, claims *auth.Claims, appID int64) *apierr.List {
	user, errs := s.resolveActor(ctx, claims)
	if !errs.Empty() {
		return errs
	}

	app, err := s.apps.GetAppByID(ctx, appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.AppNotFound)
		}
		s.logger.WithError(err).Error("remove_app: app lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionRemoveApp, actor, policy.Resource{OwnerUserID: user.ID}); !errs.Empty() {
		return errs
	}

	userApp, err := s.apps.GetUserApp(ctx, user.ID, app.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		s.logger.WithError(err).Error("remove_app: association lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	if err := s.apps.DeleteUserApp(ctx, user.ID, app.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WithError(err).Error("remove_app: association delete failed")
		return apierr.NewStatus(apierr.UnknownValidationError, http.StatusInternalServerError)
	}

	if userApp.UsedStorage > 0 {
		user.UsedStorage -= userApp.UsedStorage
		if user.UsedStorage < 0 {
			user.UsedStorage = 0
		}
		if err := s.users.UpdateUser(ctx, user); err != nil {
			s.logger.WithError(err).Warn("remove_app: storage accounting update failed")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"app_id":  app.ID,
	}).Info("app removed")
	return nil
}

// SendRemoveAppEmail confirms an app removal to the user. The app must
// actually be in use by the account.
func (s *Service) SendRemoveAppEmail(ctx context.Context, claims *auth.Claims, appID int64) *apierr.List {
	user, errs := s.resolveActor(ctx, claims)
	if !errs.Empty() {
		return errs
	}

	app, err := s.apps.GetAppByID(ctx, appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.AppNotFound)
		}
		s.logger.WithError(err).Error("send_remove_app: app lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	if _, err := s.apps.GetUserApp(ctx, user.ID, app.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.AppNotInUse)
		}
		s.logger.WithError(err).Error("send_remove_app: association lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	s.notifier.SendRemoveAppEmail(user, app)
	return nil
}
