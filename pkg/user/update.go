package user

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/policy"
)

// UpdateInput carries the optional fields of a profile update. Empty
// strings mean "not supplied"; Plan distinguishes absent from empty
// because an empty plan value is a validation error.
type UpdateInput struct {
	Email        string
	Username     string
	Password     string
	Avatar       string
	Plan         *string
	PaymentToken string
}

// UpdateUser applies a profile update through a first-party client. Email
// and password changes are staged behind confirmation tokens, never
// applied directly.
func (s *Service) UpdateUser(ctx context.Context, claims *auth.Claims, in UpdateInput) (*Profile, *apierr.List) {
	user, rerrs := s.resolveActor(ctx, claims)
	if !rerrs.Empty() {
		return nil, rerrs
	}

	actor := policy.Actor{DevID: claims.DevID, UserID: claims.UserID}
	if errs := s.policy.Decide(policy.ActionUpdateUser, actor, policy.Resource{OwnerUserID: user.ID}); !errs.Empty() {
		return nil, errs
	}

	errs := &apierr.List{}
	emailChanged := false
	passwordChanged := false

	if in.Email != "" {
		if !validEmail(in.Email) {
			errs.Add(apierr.EmailInvalid)
		} else {
			token, err := auth.GenerateConfirmationToken()
			if err != nil {
				s.logger.WithError(err).Error("update: token generation failed")
				return nil, apierr.New(apierr.UnknownValidationError)
			}
			user.NewEmail = in.Email
			user.EmailConfirmationToken = token
			emailChanged = true
		}
	}

	if in.Username != "" {
		validateUsername(errs, in.Username)
		if taken, err := s.users.UsernameTaken(ctx, in.Username, user.ID); err != nil {
			s.logger.WithError(err).Error("update: username check failed")
			return nil, apierr.New(apierr.UnknownValidationError)
		} else if taken {
			errs.Add(apierr.UsernameTaken)
		}
		if errs.Empty() {
			user.Username = in.Username
		}
	}

	if in.Password != "" {
		validatePassword(errs, in.Password)
		if errs.Empty() {
			digest, err := auth.HashPassword(in.Password)
			if err != nil {
				s.logger.WithError(err).Error("update: password hash failed")
				return nil, apierr.New(apierr.UnknownValidationError)
			}
			token, err := auth.GenerateConfirmationToken()
			if err != nil {
				s.logger.WithError(err).Error("update: token generation failed")
				return nil, apierr.New(apierr.UnknownValidationError)
			}
			user.NewPasswordDigest = digest
			user.PasswordConfirmationToken = token
			passwordChanged = true
		}
	}

	if in.Avatar != "" && errs.Empty() {
		if aerrs := s.updateAvatar(ctx, user, in.Avatar); !aerrs.Empty() {
			errs.Merge(aerrs)
		}
	}

	if in.Plan != nil {
		if perrs := s.updatePlan(ctx, user, *in.Plan, in.PaymentToken); !perrs.Empty() {
			errs.Merge(perrs)
		}
	}

	if !errs.Empty() {
		return nil, errs
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		s.logger.WithError(err).Error("update: persist failed")
		return nil, apierr.NewStatus(apierr.UnknownValidationError, http.StatusInternalServerError)
	}

	if emailChanged {
		s.notifier.SendEmailChangedEmail(user)
	}
	if passwordChanged {
		s.notifier.SendPasswordChangedEmail(user)
	}

	return s.buildProfile(ctx, user)
}

// updateAvatar decodes and stores a base64 avatar image. Only PNG and
// JPEG content is accepted.
func (s *Service) updateAvatar(ctx context.Context, user *model.User, encoded string) *apierr.List {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return apierr.New(apierr.UnknownValidationError)
	}

	contentType := http.DetectContentType(data)
	if contentType != "image/png" && contentType != "image/jpeg" {
		return apierr.New(apierr.FileExtensionNotAllowed)
	}

	etag, err := s.blobs.PutAvatar(ctx, user.ID, data, contentType)
	if err != nil {
		s.logger.WithError(err).Error("update: avatar upload failed")
		return apierr.New(apierr.UnknownValidationError)
	}
	user.AvatarEtag = etag
	return nil
}

// updatePlan validates and applies a plan change. Moving onto a paid plan
// requires a billing customer, created from the payment token on first use.
func (s *Service) updatePlan(ctx context.Context, user *model.User, planValue, paymentToken string) *apierr.List {
	parsed, err := strconv.Atoi(planValue)
	if err != nil {
		return apierr.New(apierr.PlanDoesNotExist)
	}
	plan := model.Plan(parsed)
	if !plan.Valid() {
		return apierr.New(apierr.PlanDoesNotExist)
	}

	if plan != model.PlanFree {
		if user.PaymentCustomerID == "" && paymentToken == "" {
			return apierr.New(apierr.PaymentInformationMissing)
		}
		customerID, err := s.billing.EnsureCustomer(ctx, user, paymentToken)
		if err != nil {
			return apierr.New(apierr.PaymentTokenInvalid)
		}
		user.PaymentCustomerID = customerID

		periodEnd, err := s.billing.UpdateSubscription(ctx, customerID, plan)
		if err != nil {
			s.logger.WithError(err).Error("update: subscription change failed")
			return apierr.New(apierr.UnknownValidationError)
		}
		user.PeriodEnd = &periodEnd
		user.SubscriptionStatus = model.SubscriptionActive
	} else if user.PaymentCustomerID != "" && user.Plan != model.PlanFree {
		if err := s.billing.CancelSubscription(ctx, user.PaymentCustomerID); err != nil {
			s.logger.WithError(err).Error("update: subscription cancel failed")
			return apierr.New(apierr.UnknownValidationError)
		}
		user.SubscriptionStatus = model.SubscriptionEnding
	}

	user.Plan = plan
	return nil
}
