package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/price"
	stripesub "github.com/stripe/stripe-go/v82/subscription"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/env"
)

// StripeClient is the international (USD) gateway adapter built on Checkout
// Sessions: one-time day passes run in payment mode, memberships in
// subscription mode against a looked-up recurring price.
type StripeClient struct {
	SecretKey string
}

func NewStripeClientFromEnv() *StripeClient {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key != "" {
		stripe.Key = key
	}
	return &StripeClient{SecretKey: key}
}

func (c *StripeClient) Provider() string { return models.PaymentProviderStripe }

// CreateCustomer looks up an existing customer by email before creating one,
// so repeated checkouts for the same email reuse a single customer.
func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("email is required for a stripe customer")
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := customer.List(listParams)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", c.wrap(err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", c.wrap(err)
	}
	return cust.ID, nil
}

func (c *StripeClient) CreateOneTimeIntent(ctx context.Context, in OneTimeIntentInput) (*Intent, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(in.Currency)),
					UnitAmount: stripe.Int64(in.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.OrderName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(withSessionRef(in.ReturnURL)),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	if in.CustomerRef != "" {
		params.Customer = stripe.String(in.CustomerRef)
	} else if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, c.wrap(err)
	}
	return &Intent{Reference: s.ID, RedirectURL: s.URL}, nil
}

// CreateRecurringPlan resolves a recurring price by lookup key first; the key
// encodes (name, amount, currency, cadence) so duplicate creation collapses
// onto the existing price.
func (c *StripeClient) CreateRecurringPlan(ctx context.Context, in RecurringPlanInput) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}

	key := planKey(in)
	listParams := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{key}),
	}
	listParams.Context = ctx
	iter := price.List(listParams)
	for iter.Next() {
		return iter.Price().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", c.wrap(err)
	}

	params := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(in.Currency)),
		UnitAmount: stripe.Int64(in.Amount),
		LookupKey:  stripe.String(key),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(stripeInterval(in.Cadence)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(in.Name),
		},
	}
	params.Context = ctx
	p, err := price.New(params)
	if err != nil {
		return "", c.wrap(err)
	}
	return p.ID, nil
}

func (c *StripeClient) CreateSubscriptionIntent(ctx context.Context, in SubscriptionIntentInput) (*Intent, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PlanRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(withSessionRef(in.ReturnURL)),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	if in.CustomerRef != "" {
		params.Customer = stripe.String(in.CustomerRef)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, c.wrap(err)
	}
	return &Intent{Reference: s.ID, RedirectURL: s.URL}, nil
}

// CaptureOrVerify accepts either a checkout session or a payment intent
// reference. Checkout already moved the funds, so verification checks the
// settled state; an uncaptured payment intent is captured here.
func (c *StripeClient) CaptureOrVerify(ctx context.Context, reference string, expectedAmount int64) (*CaptureResult, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	if strings.HasPrefix(reference, "cs_") {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		s, err := checkoutsession.Get(reference, params)
		if err != nil {
			return nil, c.wrap(err)
		}
		if expectedAmount > 0 && s.AmountTotal != expectedAmount {
			return nil, fmt.Errorf("stripe session amount mismatch (got %d, want %d): %w", s.AmountTotal, expectedAmount, ErrRejected)
		}
		return &CaptureResult{
			Succeeded: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			RawStatus: string(s.PaymentStatus),
		}, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(reference, params)
	if err != nil {
		return nil, c.wrap(err)
	}
	if pi.Status == stripe.PaymentIntentStatusRequiresCapture {
		captureParams := &stripe.PaymentIntentCaptureParams{}
		captureParams.Context = ctx
		pi, err = paymentintent.Capture(reference, captureParams)
		if err != nil {
			return nil, c.wrap(err)
		}
	}
	return &CaptureResult{
		Succeeded: pi.Status == stripe.PaymentIntentStatusSucceeded,
		RawStatus: string(pi.Status),
	}, nil
}

func (c *StripeClient) GetSubscriptionStatus(ctx context.Context, reference string) (SubscriptionStatus, error) {
	if err := c.configured(); err != nil {
		return StatusInactive, err
	}

	subID := reference
	if strings.HasPrefix(reference, "cs_") {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		s, err := checkoutsession.Get(reference, params)
		if err != nil {
			return StatusInactive, c.wrap(err)
		}
		if s.Subscription == nil {
			return StatusInactive, nil
		}
		subID = s.Subscription.ID
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := stripesub.Get(subID, params)
	if err != nil {
		return StatusInactive, c.wrap(err)
	}
	return mapStripeSubscriptionStatus(sub.Status), nil
}

// mapStripeSubscriptionStatus collapses Stripe's lifecycle into the three
// reconciliation states. "incomplete" is the redirect-before-webhook race and
// counts as pending approval, not failure.
func mapStripeSubscriptionStatus(status stripe.SubscriptionStatus) SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return StatusActive
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPastDue:
		return StatusPendingApproval
	default:
		return StatusInactive
	}
}

// withSessionRef appends Stripe's session id placeholder so the redirect leg
// carries the reference back. Toss does the equivalent on its side by adding
// paymentKey to the success URL.
func withSessionRef(returnURL string) string {
	if strings.Contains(returnURL, "{CHECKOUT_SESSION_ID}") {
		return returnURL
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "ref={CHECKOUT_SESSION_ID}"
}

func stripeInterval(cadence string) string {
	switch strings.ToLower(strings.TrimSpace(cadence)) {
	case "weekly":
		return "week"
	case "monthly":
		return "month"
	case "yearly":
		return "year"
	default:
		return "week"
	}
}

func (c *StripeClient) configured() error {
	if c.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is missing: %w", ErrNotConfigured)
	}
	return nil
}

func (c *StripeClient) wrap(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("stripe declined (code=%s): %w", stripeErr.Code, ErrRejected)
		case stripe.ErrorTypeAuthentication:
			return fmt.Errorf("stripe auth failed: %w", ErrNotConfigured)
		case stripe.ErrorTypeAPIConnection:
			return fmt.Errorf("stripe unreachable: %w", ErrUnreachable)
		}
	}
	return fmt.Errorf("stripe request failed: %v: %w", err, ErrUnreachable)
}
