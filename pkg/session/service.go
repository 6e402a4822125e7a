// Package session manages device-bound login sessions: creation through a
// first-party client, retrieval and deletion under the ownership rule, and
// background reaping of expired rows.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/store"
)

// Service implements the session lifecycle.
type Service struct {
	sessions store.SessionStore
	users    store.UserStore
	devs     store.DevStore
	apps     store.AppStore
	issuer   *auth.TokenIssuer
	policy   *policy.Engine
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService wires the session service.
func NewService(sessions store.SessionStore, users store.UserStore, devs store.DevStore,
	apps store.AppStore, issuer *auth.TokenIssuer, engine *policy.Engine,
	logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		sessions: sessions,
		users:    users,
		devs:     devs,
		apps:     apps,
		issuer:   issuer,
		policy:   engine,
		logger:   logger,
		metrics:  metrics,
	}
}

// CreateInput carries the verified parameters of a session creation. The
// acting dev has already passed credential verification; APIKey names the
// target dev whose app the device will use.
type CreateInput struct {
	Email      string
	Password   string
	APIKey     string
	AppID      int64
	DeviceName string
	DeviceType string
	DeviceOS   string
}

// CreateResult is the issued token and its backing session.
type CreateResult struct {
	JWT     string
	Session *model.Session
	UserID  int64
}

// Create persists a session and issues a token that references it.
func (s *Service) Create(ctx context.Context, actingDev *model.Dev, in CreateInput) (*CreateResult, *apierr.List) {
	if errs := s.policy.Decide(policy.ActionCreateSession, policy.Actor{DevID: actingDev.ID}, policy.Resource{}); !errs.Empty() {
		return nil, errs
	}

	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.UserNotFound)
		}
		s.logger.WithError(err).Error("session create: user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	targetDev, err := s.devs.GetDevByAPIKey(ctx, in.APIKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.DevNotFound)
		}
		s.logger.WithError(err).Error("session create: dev lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	app, err := s.apps.GetAppByID(ctx, in.AppID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.AppNotFound)
		}
		s.logger.WithError(err).Error("session create: app lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	// An app the target dev does not own is a policy violation, not a
	// missing resource.
	if !app.BelongsTo(targetDev) {
		return nil, apierr.New(apierr.ActionNotAllowed)
	}

	if !auth.CheckPassword(user.PasswordDigest, in.Password) {
		s.metrics.AuthAttemptsTotal.WithLabelValues("password", "denied").Inc()
		return nil, apierr.New(apierr.PasswordIncorrect)
	}
	if !user.Confirmed {
		return nil, apierr.New(apierr.UserNotConfirmed)
	}
	s.metrics.AuthAttemptsTotal.WithLabelValues("password", "allowed").Inc()

	session := &model.Session{
		UserID:     user.ID,
		AppID:      app.ID,
		Exp:        time.Now().Add(s.issuer.TTL()),
		DeviceName: in.DeviceName,
		DeviceType: in.DeviceType,
		DeviceOS:   in.DeviceOS,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		s.logger.WithError(err).Error("session create: persist failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	token, err := s.issuer.Issue(user, targetDev.ID, session.ID)
	if err != nil {
		s.logger.WithError(err).Error("session create: token issue failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	s.metrics.SessionsCreatedTotal.Inc()
	s.metrics.TokensIssuedTotal.WithLabelValues("session").Inc()
	return &CreateResult{JWT: token, Session: session, UserID: user.ID}, nil
}

// Get fetches a session for its owner acting through a first-party client.
func (s *Service) Get(ctx context.Context, claims *auth.Claims, sessionID int64) (*model.Session, *apierr.List) {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.SessionNotFound)
		}
		s.logger.WithError(err).Error("session get: lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID, SessionID: claims.SessionID}
	if errs := s.policy.Decide(policy.ActionGetSession, actor, policy.Resource{OwnerUserID: session.UserID}); !errs.Empty() {
		return nil, errs
	}
	return session, nil
}

// Delete removes a session. A session that is already gone reports
// SessionNotFound rather than succeeding silently.
func (s *Service) Delete(ctx context.Context, claims *auth.Claims, sessionID int64) *apierr.List {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.SessionNotFound)
		}
		s.logger.WithError(err).Error("session delete: lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID, SessionID: claims.SessionID}
	if errs := s.policy.Decide(policy.ActionDeleteSession, actor, policy.Resource{OwnerUserID: session.UserID}); !errs.Empty() {
		return errs
	}

	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.SessionNotFound)
		}
		s.logger.WithError(err).Error("session delete: persist failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	s.metrics.SessionsDeletedTotal.Inc()
	return nil
}

// CleanupExpired deletes sessions past their expiry. Run on a schedule.
func (s *Service) CleanupExpired(ctx context.Context) error {
	reaped, err := s.sessions.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	if reaped > 0 {
		s.metrics.SessionsReapedTotal.Add(float64(reaped))
		s.logger.WithField("count", reaped).Info("reaped expired sessions")
	}
	return nil
}
