// Package dev manages developer registration and credential rotation.
package dev

import (
	"context"
	"errors"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/store"
)

// Service implements developer account operations.
type Service struct {
	devs    store.DevStore
	users   store.UserStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService wires the dev service.
func NewService(devs store.DevStore, users store.UserStore, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{devs: devs, users: users, logger: logger, metrics: metrics}
}

// Register creates a dev account for an existing user and issues its
// credential material. The secret key is returned exactly once here.
func (s *Service) Register(ctx context.Context, userID int64) (*model.Dev, *apierr.List) {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.UserNotFound)
		}
		s.logger.WithError(err).Error("register: user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	if _, err := s.devs.GetDevByUserID(ctx, userID); err == nil {
		return nil, apierr.New(apierr.ActionNotAllowed)
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.WithError(err).Error("register: dev lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	keys, err := auth.GenerateKeySet()
	if err != nil {
		s.logger.WithError(err).Error("register: key generation failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	dev := &model.Dev{
		UserID:    userID,
		APIKey:    keys.APIKey,
		SecretKey: keys.SecretKey,
		UUID:      keys.UUID,
	}
	if err := s.devs.CreateDev(ctx, dev); err != nil {
		s.logger.WithError(err).Error("register: persist failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	s.logger.WithField("dev_id", dev.ID).Info("dev registered")
	return dev, nil
}

// RotateKeys replaces the full credential set of a dev. The caller must
// have already proven control of the current credentials; old keys stop
// working immediately.
func (s *Service) RotateKeys(ctx context.Context, dev *model.Dev) (*model.Dev, *apierr.List) {
	keys, err := auth.GenerateKeySet()
	if err != nil {
		s.logger.WithError(err).Error("rotate: key generation failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	if err := s.devs.UpdateDevKeys(ctx, dev.ID, keys.APIKey, keys.SecretKey, keys.UUID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.DevNotFound)
		}
		s.logger.WithError(err).Error("rotate: persist failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}

	rotated := *dev
	rotated.APIKey = keys.APIKey
	rotated.SecretKey = keys.SecretKey
	rotated.UUID = keys.UUID

	s.logger.WithField("dev_id", dev.ID).Info("dev keys rotated")
	return &rotated, nil
}
