// Package notify dispatches account lifecycle emails. Delivery is
// fire-and-forget: a failed send is logged and counted but never changes
// the outcome of the request that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/appmantle/appmantle/pkg/async"
	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
)

// Email kinds, used as the metric label.
const (
	KindVerification    = "verification"
	KindPasswordReset   = "password_reset"
	KindEmailChanged    = "email_changed"
	KindPasswordChanged = "password_changed"
	KindDeleteAccount   = "delete_account"
	KindRemoveApp       = "remove_app"
	KindResetNewEmail   = "reset_new_email"
)

const dispatchTimeout = 30 * time.Second

// Message is one outbound email.
type Message struct {
	To    string
	Kind  string
	Token string
	Extra map[string]string
}

// Mailer performs the actual delivery. Production wires an SMTP or
// provider-backed implementation; tests use a recorder.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher queues emails asynchronously.
type Dispatcher struct {
	mailer  Mailer
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(mailer Mailer, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{mailer: mailer, logger: logger, metrics: metrics}
}

func (d *Dispatcher) dispatch(msg Message) {
	// Detached from the request context so an in-flight send survives the
	// response being written.
	async.SafeGo(context.Background(), dispatchTimeout, "email "+msg.Kind, d.logger, func(ctx context.Context) error {
		if err := d.mailer.Send(ctx, msg); err != nil {
			d.metrics.EmailsDispatchedTotal.WithLabelValues(msg.Kind, "error").Inc()
			return err
		}
		d.metrics.EmailsDispatchedTotal.WithLabelValues(msg.Kind, "sent").Inc()
		return nil
	})
}

// SendVerificationEmail delivers the signup confirmation token.
func (d *Dispatcher) SendVerificationEmail(user *model.User) {
	d.dispatch(Message{To: user.Email, Kind: KindVerification, Token: user.EmailConfirmationToken})
}

// SendPasswordResetEmail delivers a password reset token.
func (d *Dispatcher) SendPasswordResetEmail(user *model.User) {
	d.dispatch(Message{To: user.Email, Kind: KindPasswordReset, Token: user.PasswordConfirmationToken})
}

// SendEmailChangedEmail confirms a pending address change to the new address.
func (d *Dispatcher) SendEmailChangedEmail(user *model.User) {
	d.dispatch(Message{To: user.NewEmail, Kind: KindEmailChanged, Token: user.EmailConfirmationToken})
}

// SendPasswordChangedEmail confirms a pending password change.
func (d *Dispatcher) SendPasswordChangedEmail(user *model.User) {
	d.dispatch(Message{To: user.Email, Kind: KindPasswordChanged, Token: user.PasswordConfirmationToken})
}

// SendResetNewEmailEmail warns the previous address after an email change
// completed, with the option to revert it.
func (d *Dispatcher) SendResetNewEmailEmail(user *model.User) {
	d.dispatch(Message{To: user.OldEmail, Kind: KindResetNewEmail})
}

// SendDeleteAccountEmail delivers both tokens required to destroy an account.
func (d *Dispatcher) SendDeleteAccountEmail(user *model.User) {
	d.dispatch(Message{
		To:    user.Email,
		Kind:  KindDeleteAccount,
		Token: user.EmailConfirmationToken,
		Extra: map[string]string{"password_token": user.PasswordConfirmationToken},
	})
}

// SendRemoveAppEmail confirms removal of an app's data.
func (d *Dispatcher) SendRemoveAppEmail(user *model.User, app *model.App) {
	d.dispatch(Message{
		To:    user.Email,
		Kind:  KindRemoveApp,
		Extra: map[string]string{"app_name": app.Name},
	})
}

// LogMailer is the default Mailer; it records the send in the log only.
// Deployments without an email provider run with this.
type LogMailer struct {
	Logger *observability.Logger
}

// Send logs the message instead of delivering it.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.Logger.WithFields(map[string]interface{}{
		"to":   msg.To,
		"kind": msg.Kind,
	}).Info("email dispatched")
	return nil
}
