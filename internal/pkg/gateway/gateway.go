package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Subscription status as reported by a provider, collapsed to the three
// states the reconciliation flow cares about.
type SubscriptionStatus string

const (
	StatusActive          SubscriptionStatus = "active"
	StatusPendingApproval SubscriptionStatus = "pending_approval"
	StatusInactive        SubscriptionStatus = "inactive"
)

var (
	// ErrNotConfigured means the provider credentials are missing. The flow
	// for that provider is unavailable; callers surface a generic "payment
	// service unavailable" message.
	ErrNotConfigured = errors.New("payment provider is not configured")
	// ErrRejected is an explicit decline from the provider. A normal terminal
	// outcome, recorded and not retried.
	ErrRejected = errors.New("payment provider rejected the payment")
	// ErrUnreachable covers network failures and timeouts. The outcome is
	// unknown; callers must route to a retry-safe state and never record
	// success or permanent failure.
	ErrUnreachable = errors.New("payment provider unreachable")
)

func IsNotConfigured(err error) bool { return errors.Is(err, ErrNotConfigured) }
func IsRejected(err error) bool      { return errors.Is(err, ErrRejected) }
func IsUnreachable(err error) bool   { return errors.Is(err, ErrUnreachable) }

// Intent is a created payment the caller must approve at the provider.
type Intent struct {
	Reference   string
	RedirectURL string
}

// CaptureResult is the authoritative outcome of a one-time payment.
type CaptureResult struct {
	Succeeded bool
	RawStatus string
}

type OneTimeIntentInput struct {
	CustomerRef string
	Email       string
	Amount      int64
	Currency    string
	OrderName   string
	ReturnURL   string
	CancelURL   string
	Metadata    map[string]string
}

type RecurringPlanInput struct {
	Name     string
	Amount   int64
	Currency string
	Cadence  string
}

type SubscriptionIntentInput struct {
	PlanRef     string
	CustomerRef string
	ReturnURL   string
	CancelURL   string
	Metadata    map[string]string
}

// Client is the shared capability set implemented once per provider. All call
// sites depend on this interface only; nothing downstream may branch on
// provider-specific fields.
type Client interface {
	Provider() string

	// CreateCustomer is idempotent: when the provider reports an existing
	// customer for the email, the existing reference is recovered.
	CreateCustomer(ctx context.Context, email, name string) (string, error)

	CreateOneTimeIntent(ctx context.Context, in OneTimeIntentInput) (*Intent, error)

	// CreateRecurringPlan is idempotent by (name, amount, currency, cadence):
	// an existing matching plan is looked up before creating a new one.
	CreateRecurringPlan(ctx context.Context, in RecurringPlanInput) (string, error)

	CreateSubscriptionIntent(ctx context.Context, in SubscriptionIntentInput) (*Intent, error)

	// CaptureOrVerify captures a one-time payment (the funds move here) or
	// fetches the settled state of an already-captured reference.
	CaptureOrVerify(ctx context.Context, reference string, expectedAmount int64) (*CaptureResult, error)

	GetSubscriptionStatus(ctx context.Context, reference string) (SubscriptionStatus, error)
}

// planKey builds the idempotency key shared by both adapters for recurring
// plan lookup-before-create.
func planKey(in RecurringPlanInput) string {
	return fmt.Sprintf("%s-%d-%s-%s", slugify(in.Name), in.Amount, in.Currency, in.Cadence)
}

func slugify(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}
