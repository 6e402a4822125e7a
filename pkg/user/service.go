// Package user implements the account lifecycle: signup, login, profile
// reads and updates, two-phase email and password changes, confirmation,
// and destruction.
package user

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/billing"
	"github.com/appmantle/appmantle/pkg/blob"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/notify"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/policy"
	"github.com/appmantle/appmantle/pkg/store"
)

// Service implements user account operations.
type Service struct {
	users    store.UserStore
	devs     store.DevStore
	apps     store.AppStore
	sessions store.SessionStore
	issuer   *auth.TokenIssuer
	policy   *policy.Engine
	notifier *notify.Dispatcher
	blobs    blob.Store
	billing  billing.Provider
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewService wires the user service.
func NewService(users store.UserStore, devs store.DevStore, apps store.AppStore,
	sessions store.SessionStore, issuer *auth.TokenIssuer, engine *policy.Engine,
	notifier *notify.Dispatcher, blobs blob.Store, billingProvider billing.Provider,
	logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		users:    users,
		devs:     devs,
		apps:     apps,
		sessions: sessions,
		issuer:   issuer,
		policy:   engine,
		notifier: notifier,
		blobs:    blobs,
		billing:  billingProvider,
		logger:   logger,
		metrics:  metrics,
	}
}

// SignupInput carries the fields of an account creation. The device block
// is optional; when present a session is created for the app identified by
// APIKey and AppID.
type SignupInput struct {
	Email    string
	Username string
	Password string

	APIKey     string
	AppID      int64
	DeviceName string
	DeviceType string
	DeviceOS   string
}

// WithDevice reports whether the input requests a device session.
func (in SignupInput) WithDevice() bool {
	return in.APIKey != "" || in.AppID != 0 || in.DeviceName != "" ||
		in.DeviceType != "" || in.DeviceOS != ""
}

// SignupResult is the created account and its initial token.
type SignupResult struct {
	User      *model.User
	JWT       string
	SessionID int64
}

// Signup creates an unconfirmed account through a first-party client and
// dispatches the verification email.
func (s *Service) Signup(ctx context.Context, actingDev *model.Dev, in SignupInput) (*SignupResult, *apierr.List) {
	if errs := s.policy.Decide(policy.ActionSignup, policy.Actor{DevID: actingDev.ID}, policy.Resource{}); !errs.Empty() {
		return nil, errs
	}

	errs := &apierr.List{}
	if !validEmail(in.Email) {
		errs.Add(apierr.EmailInvalid)
	}
	validatePassword(errs, in.Password)
	validateUsername(errs, in.Username)

	if taken, err := s.users.EmailTaken(ctx, in.Email, 0); err != nil {
		s.logger.WithError(err).Error("signup: email check failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	} else if taken {
		errs.Add(apierr.EmailTaken)
	}
	if taken, err := s.users.UsernameTaken(ctx, in.Username, 0); err != nil {
		s.logger.WithError(err).Error("signup: username check failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	} else if taken {
		errs.Add(apierr.UsernameTaken)
	}
	if !errs.Empty() {
		return nil, errs
	}

	digest, err := auth.HashPassword(in.Password)
	if err != nil {
		s.logger.WithError(err).Error("signup: password hash failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	token, err := auth.GenerateConfirmationToken()
	if err != nil {
		s.logger.WithError(err).Error("signup: token generation failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	user := &model.User{
		Email:                  in.Email,
		Username:               in.Username,
		PasswordDigest:         digest,
		EmailConfirmationToken: token,
		Plan:                   model.PlanFree,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		s.logger.WithError(err).Error("signup: persist failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	result := &SignupResult{User: user}

	tokenDevID := actingDev.ID
	if in.WithDevice() {
		sessionID, devID, serrs := s.createSignupSession(ctx, user, in)
		if !serrs.Empty() {
			return nil, serrs
		}
		result.SessionID = sessionID
		tokenDevID = devID
	}

	jwt, err := s.issuer.Issue(user, tokenDevID, result.SessionID)
	if err != nil {
		s.logger.WithError(err).Error("signup: token issue failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	result.JWT = jwt

	s.metrics.TokensIssuedTotal.WithLabelValues("signup").Inc()
	s.notifier.SendVerificationEmail(user)
	return result, nil
}

// createSignupSession binds the new account to a device in the same
// request. The target app must belong to the dev named by the api key.
func (s *Service) createSignupSession(ctx context.Context, user *model.User, in SignupInput) (int64, int64, *apierr.List) {
	targetDev, err := s.devs.GetDevByAPIKey(ctx, in.APIKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, apierr.NewStatus(apierr.DevNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("signup session: dev lookup failed")
		return 0, 0, apierr.New(apierr.UnknownValidationError)
	}
	app, err := s.apps.GetAppByID(ctx, in.AppID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, apierr.NewStatus(apierr.AppNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("signup session: app lookup failed")
		return 0, 0, apierr.New(apierr.UnknownValidationError)
	}
	if !app.BelongsTo(targetDev) {
		return 0, 0, apierr.New(apierr.ActionNotAllowed)
	}

	session := &model.Session{
		UserID:     user.ID,
		AppID:      app.ID,
		Exp:        time.Now().Add(s.issuer.TTL()),
		DeviceName: in.DeviceName,
		DeviceType: in.DeviceType,
		DeviceOS:   in.DeviceOS,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		s.logger.WithError(err).Error("signup session: persist failed")
		return 0, 0, apierr.New(apierr.UnknownValidationError)
	}
	s.metrics.SessionsCreatedTotal.Inc()
	return session.ID, targetDev.ID, nil
}

// LoginResult is an issued token and the account it belongs to.
type LoginResult struct {
	JWT    string
	UserID int64
}

// Login verifies a password and issues a token bound to the acting dev.
// Unconfirmed accounts cannot log in.
func (s *Service) Login(ctx context.Context, actingDev *model.Dev, email, password string) (*LoginResult, *apierr.List) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NewStatus(apierr.UserNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("login: user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	if !auth.CheckPassword(user.PasswordDigest, password) {
		s.metrics.AuthAttemptsTotal.WithLabelValues("password", "denied").Inc()
		return nil, apierr.New(apierr.PasswordIncorrect)
	}
	if !user.Confirmed {
		return nil, apierr.New(apierr.UserNotConfirmed)
	}
	s.metrics.AuthAttemptsTotal.WithLabelValues("password", "allowed").Inc()

	jwt, err := s.issuer.Issue(user, actingDev.ID, 0)
	if err != nil {
		s.logger.WithError(err).Error("login: token issue failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	now := time.Now()
	user.LastActive = &now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		s.logger.WithError(err).Warn("login: last_active update failed")
	}

	s.metrics.TokensIssuedTotal.WithLabelValues("login").Inc()
	return &LoginResult{JWT: jwt, UserID: user.ID}, nil
}

// LoginByJWT swaps a first-party token for one bound to the dev named by
// apiKey, letting a logged-in user enter a third-party app without
// re-entering their password.
func (s *Service) LoginByJWT(ctx context.Context, claims *auth.Claims, apiKey string) (*LoginResult, *apierr.List) {
	if errs := s.policy.Decide(policy.ActionLoginByJWT, policy.Actor{DevID: claims.DevID, UserID: claims.UserID}, policy.Resource{}); !errs.Empty() {
		return nil, errs
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NewStatus(apierr.UserNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("login_by_jwt: user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	targetDev, err := s.devs.GetDevByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NewStatus(apierr.DevNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("login_by_jwt: dev lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	jwt, err := s.issuer.Issue(user, targetDev.ID, 0)
	if err != nil {
		s.logger.WithError(err).Error("login_by_jwt: token issue failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	s.metrics.TokensIssuedTotal.WithLabelValues("login_by_jwt").Inc()
	return &LoginResult{JWT: jwt, UserID: user.ID}, nil
}
