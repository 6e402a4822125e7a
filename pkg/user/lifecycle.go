package user

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/appmantle/appmantle/pkg/apierr"
	"github.com/appmantle/appmantle/pkg/auth"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/store"
)

func tokenMatches(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func (s *Service) userByEmail(ctx context.Context, email string) (*model.User, *apierr.List) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.New(apierr.UserNotFound)
		}
		s.logger.WithError(err).Error("user lookup failed")
		return nil, apierr.New(apierr.UnknownValidationError)
	}
	return user, nil
}

func (s *Service) saveUser(ctx context.Context, user *model.User, op string) *apierr.List {
	if err := s.users.UpdateUser(ctx, user); err != nil {
		s.logger.WithError(err).Error(op + ": persist failed")
		return apierr.NewStatus(apierr.UnknownValidationError, http.StatusInternalServerError)
	}
	return nil
}

// Confirm redeems the email confirmation token sent at signup and unlocks
// the account's full storage quota.
func (s *Service) Confirm(ctx context.Context, email, token string) *apierr.List {
	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}
	if user.Confirmed {
		return apierr.New(apierr.UserAlreadyConfirmed)
	}
	if !tokenMatches(user.EmailConfirmationToken, token) {
		return apierr.New(apierr.EmailConfirmationTokenIncorrect)
	}

	user.Confirmed = true
	user.EmailConfirmationToken = ""
	return s.saveUser(ctx, user, "confirm")
}

// Delete destroys an account. No bearer token is involved; the caller
// proves control of the mailbox and the password reset channel by
// presenting both tokens from the delete-account email.
func (s *Service) Delete(ctx context.Context, email, emailToken, passwordToken string) *apierr.List {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.NewStatus(apierr.UserNotFound, http.StatusBadRequest)
		}
		s.logger.WithError(err).Error("delete: user lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	if !tokenMatches(user.EmailConfirmationToken, emailToken) {
		return apierr.New(apierr.EmailConfirmationTokenIncorrect)
	}
	if !tokenMatches(user.PasswordConfirmationToken, passwordToken) {
		return apierr.New(apierr.PasswordConfirmationTokenIncorrect)
	}

	if user.PaymentCustomerID != "" && user.Plan != model.PlanFree {
		if err := s.billing.CancelSubscription(ctx, user.PaymentCustomerID); err != nil {
			s.logger.WithError(err).Warn("delete: subscription cancel failed")
		}
	}
	if err := s.blobs.DeleteUserObjects(ctx, user.ID); err != nil {
		s.logger.WithError(err).Warn("delete: blob cleanup failed")
	}

	if err := s.users.DeleteUser(ctx, user.ID); err != nil {
		s.logger.WithError(err).Error("delete: persist failed")
		return apierr.NewStatus(apierr.UnknownValidationError, http.StatusInternalServerError)
	}
	return nil
}

// SendVerificationEmail reissues the signup confirmation token.
func (s *Service) SendVerificationEmail(ctx context.Context, email string) *apierr.List {
	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}
	if user.Confirmed {
		return apierr.New(apierr.UserAlreadyConfirmed)
	}

	token, err := auth.GenerateConfirmationToken()
	if err != nil {
		s.logger.WithError(err).Error("send_verification: token generation failed")
		return apierr.New(apierr.UnknownValidationError)
	}
	user.EmailConfirmationToken = token
	if errs := s.saveUser(ctx, user, "send_verification"); !errs.Empty() {
		return errs
	}

	s.notifier.SendVerificationEmail(user)
	return nil
}

// SendResetPasswordEmail issues a password reset token. The token is
// redeemed through SetPassword.
func (s *Service) SendResetPasswordEmail(ctx context.Context, email string) *apierr.List {
	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}

	token, err := auth.GenerateConfirmationToken()
	if err != nil {
		s.logger.WithError(err).Error("send_reset_password: token generation failed")
		return apierr.New(apierr.UnknownValidationError)
	}
	user.PasswordConfirmationToken = token
	if errs := s.saveUser(ctx, user, "send_reset_password"); !errs.Empty() {
		return errs
	}

	s.notifier.SendPasswordResetEmail(user)
	return nil
}

// SendDeleteAccountEmail issues both tokens required by Delete. Only a
// first-party client may start the flow.
func (s *Service) SendDeleteAccountEmail(ctx context.Context, actingDev *model.Dev, email string) *apierr.List {
	if !s.policy.FirstParty(actingDev.ID) {
		return apierr.New(apierr.ActionNotAllowed)
	}

	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}

	emailToken, err := auth.GenerateConfirmationToken()
	if err != nil {
		s.logger.WithError(err).Error("send_delete_account: token generation failed")
		return apierr.New(apierr.UnknownValidationError)
	}
	passwordToken, err := auth.GenerateConfirmationToken()
	if err != nil {
		s.logger.WithError(err).Error("send_delete_account: token generation failed")
		return apierr.New(apierr.UnknownValidationError)
	}
	user.EmailConfirmationToken = emailToken
	user.PasswordConfirmationToken = passwordToken
	if errs := s.saveUser(ctx, user, "send_delete_account"); !errs.Empty() {
		return errs
	}

	s.notifier.SendDeleteAccountEmail(user)
	return nil
}

// SetPassword redeems a reset token and replaces the password in one step.
// The account is identified by the token alone.
func (s *Service) SetPassword(ctx context.Context, token, password string) *apierr.List {
	if token == "" {
		return apierr.New(apierr.PasswordConfirmationTokenIncorrect)
	}
	user, err := s.users.GetUserByPasswordConfirmationToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apierr.New(apierr.PasswordConfirmationTokenIncorrect)
		}
		s.logger.WithError(err).Error("set_password: user lookup failed")
		return apierr.New(apierr.UnknownValidationError)
	}

	errs := &apierr.List{}
	validatePassword(errs, password)
	if !errs.Empty() {
		return errs
	}

	digest, err := auth.HashPassword(password)
	if err != nil {
		s.logger.WithError(err).Error("set_password: password hash failed")
		return apierr.New(apierr.UnknownValidationError)
	}
	user.PasswordDigest = digest
	user.PasswordConfirmationToken = ""
	user.NewPasswordDigest = ""
	return s.saveUser(ctx, user, "set_password")
}

// SaveNewPassword completes a password change staged by UpdateUser.
func (s *Service) SaveNewPassword(ctx context.Context, email, token string) *apierr.List {
	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}
	if !tokenMatches(user.PasswordConfirmationToken, token) {
		return apierr.New(apierr.PasswordConfirmationTokenIncorrect)
	}
	if user.NewPasswordDigest == "" {
		return apierr.New(apierr.NewPasswordEmpty)
	}

	user.PasswordDigest = user.NewPasswordDigest
	user.NewPasswordDigest = ""
	user.PasswordConfirmationToken = ""
	return s.saveUser(ctx, user, "save_new_password")
}

// SaveNewEmail completes an email change staged by UpdateUser. The old
// address is kept so the change can be reverted, and is warned by email.
func (s *Service) SaveNewEmail(ctx context.Context, email, token string) *apierr.List {
	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}
	if !tokenMatches(user.EmailConfirmationToken, token) {
		return apierr.New(apierr.EmailConfirmationTokenIncorrect)
	}
	if user.NewEmail == "" {
		return apierr.New(apierr.NewEmailEmpty)
	}

	user.OldEmail = user.Email
	user.Email = user.NewEmail
	user.NewEmail = ""
	user.EmailConfirmationToken = ""
	if errs := s.saveUser(ctx, user, "save_new_email"); !errs.Empty() {
		return errs
	}

	s.notifier.SendResetNewEmailEmail(user)
	return nil
}

// ResetNewEmail reverts a completed email change from the old address.
func (s *Service) ResetNewEmail(ctx context.Context, email string) *apierr.List {
	user, errs := s.userByEmail(ctx, email)
	if !errs.Empty() {
		return errs
	}
	if user.OldEmail == "" {
		return apierr.New(apierr.OldEmailEmpty)
	}

	user.Email = user.OldEmail
	user.OldEmail = ""
	return s.saveUser(ctx, user, "reset_new_email")
}
