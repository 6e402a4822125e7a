package user

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/store"
)

// AppUsage is one of the user's apps with its share of consumed storage.
type AppUsage struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Published   bool      `json:"published"`
	UsedStorage int64     `json:"used_storage"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the full account view returned to its owner. Secrets and
// pending-change internals never appear here.
type Profile struct {
	ID                 int64                    `json:"id"`
	Email              string                   `json:"email"`
	Username           string                   `json:"username"`
	Confirmed          bool                     `json:"confirmed"`
	Plan               model.Plan               `json:"plan"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	PeriodEnd          *time.Time               `json:"period_end,omitempty"`
	Avatar             string                   `json:"avatar"`
	AvatarEtag         string                   `json:"avatar_etag"`
	TotalStorage       int64                    `json:"total_storage"`
	UsedStorage        int64                    `json:"used_storage"`
	Apps               []AppUsage               `json:"apps"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// GetUser returns the profile of the requested account. Only the account
// owner may read it.
func (s *Service) GetUser(ctx context.Context, claims *auth.Claims, requestedID int64) (*Profile, *apierr.List) {
	if _, errs := s.resolveActor(ctx, claims); !errs.Empty() {
		return nil, errs
	}

	requested, err := s.users.GetUserByID(ctx, requestedID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.UserNotFound)
		}
		s.logger.WithError(err).Error("get_user: lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionGetUser, actor, policy.Resource{OwnerUserID: requested.ID}); !errs.Empty() {
		return nil, errs
	}

	return s.buildProfile(ctx, requested)
}

// GetUserByJWT returns the profile of the token holder.
func (s *Service) GetUserByJWT(ctx context.Context, claims *auth.Claims) (*Profile, *apierr.List) {
	user, errs := s.resolveActor(ctx, claims)
	if !errs.Empty() {
		return nil, errs
	}
	return s.buildProfile(ctx, user)
}

// resolveActor loads the token holder and its dev, reporting missing
// records the way the API contract requires.
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

func (s *Service) buildProfile(ctx context.Context, user *model.User) (*Profile, *apierr.List) {
	userApps, err := s.apps.ListUserApps(ctx, user.ID)
	if err != nil {
		s.logger.WithError(err).Error("profile: app list failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	apps := make([]AppUsage, 0, len(userApps))
	for _, ua := range userApps {
		app, err := s.apps.GetAppByID(ctx, ua.AppID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.logger.WithError(err).Error("profile: app lookup failed")
			return nil, apierr.New(apierr.UnknownValidationError)
		}
		apps = append(apps, AppUsage{
			ID:          app.ID,
			Name:        app.Name,
			Description: app.Description,
			Published:   app.Published,
			UsedStorage: ua.UsedStorage,
			CreatedAt:   app.CreatedAt,
		})
	}

	return &Profile{
		ID:                 user.ID,
		Email:              user.Email,
		Username:           user.Username,
		Confirmed:          user.Confirmed,
		Plan:               user.Plan,
		SubscriptionStatus: user.SubscriptionStatus,
		PeriodEnd:          user.PeriodEnd,
		Avatar:             s.blobs.AvatarURL(user.ID),
		AvatarEtag:         user.AvatarEtag,
		TotalStorage:       user.TotalStorage(),
		UsedStorage:        user.UsedStorage,
		Apps:               apps,
		CreatedAt:          user.CreatedAt,
		UpdatedAt:          user.UpdatedAt,
	}, nil
}
