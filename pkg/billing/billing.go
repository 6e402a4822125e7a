// Package billing records plan changes against the payment provider. The
// provider integration is deliberately thin: the platform stores the plan
// identifier and customer reference, everything else lives provider-side.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
)

// Provider is the payment backend surface the user service needs.
type Provider interface {
	// EnsureCustomer returns the provider customer id for a user, creating
	// one from the payment token when the user has none yet.
	EnsureCustomer(ctx context.Context, user *model.User, paymentToken string) (string, error)

	// UpdateSubscription moves a customer onto a plan and returns the end
	// of the paid period.
	UpdateSubscription(ctx context.Context, customerID string, plan model.Plan) (time.Time, error)

	// CancelSubscription ends a customer's subscription.
	CancelSubscription(ctx context.Context, customerID string) error
}

// LocalProvider fulfils the Provider interface without an external
// processor. Customer ids are synthesized and periods are one month out.
type LocalProvider struct {
	logger *observability.Logger
}

// NewLocalProvider creates the stand-in provider.
func NewLocalProvider(logger *observability.Logger) *LocalProvider {
	return &LocalProvider{logger: logger}
}

func (p *LocalProvider) EnsureCustomer(ctx context.Context, user *model.User, paymentToken string) (string, error) {
	if user.PaymentCustomerID != "" {
		return user.PaymentCustomerID, nil
	}
	if paymentToken == "" {
		return "", fmt.Errorf("payment token required to create customer")
	}
	customerID := fmt.Sprintf("cus_local_%d", user.ID)
	p.logger.WithFields(map[string]interface{}{
		"user_id":     user.ID,
		"customer_id": customerID,
	}).Info("created local billing customer")
	return customerID, nil
}

func (p *LocalProvider) UpdateSubscription(ctx context.Context, customerID string, plan model.Plan) (time.Time, error) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	p.logger.WithFields(map[string]interface{}{
		"customer_id": customerID,
		"plan":        plan.String(),
	}).Info("updated local subscription")
	return periodEnd, nil
}

func (p *LocalProvider) CancelSubscription(ctx context.Context, customerID string) error {
	p.logger.WithField("customer_id", customerID).Info("cancelled local subscription")
	return nil
}
