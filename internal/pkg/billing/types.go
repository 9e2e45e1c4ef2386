package billing

import (
	"time"

	"github.com/mkang-dev/ToonGate/internal/pkg/catalog"
)

// Subject is who a payment belongs to: an account or an anonymous purchase
// session. The two are distinct types on purpose; they meet only at the
// day-pass merge boundary.
type Subject interface {
	isSubject()
}

// UserSubject is an authenticated account.
type UserSubject struct {
	UserID uint
	Email  string
	Name   string
}

// AnonymousSubject is a pre-authentication purchase session identified by the
// opaque payment cookie token.
type AnonymousSubject struct {
	SessionID string
}

func (UserSubject) isSubject()      {}
func (AnonymousSubject) isSubject() {}

// CheckoutInput starts a payment.
type CheckoutInput struct {
	Subject  Subject
	PlanName string
	ClientIP string
}

// CheckoutResult carries the gateway approval redirect.
type CheckoutResult struct {
	Provider    string
	Reference   string
	RedirectURL string
	Plan        *catalog.Plan
}

// CallbackInput is a normalized gateway notification, from either the
// redirect return leg or a server-to-server webhook.
type CallbackInput struct {
	Subject         Subject
	Provider        string
	PlanName        string
	Reference       string // one-time payment reference
	SubscriptionRef string // recurring approval/subscription reference
	EventID         string // provider delivery id, for webhook dedupe
	RawPayload      string
}

// Machine-readable failure reason codes carried on the failure redirect. The
// client maps them to human text; raw provider errors never reach the user.
const (
	ReasonProviderDeclined = "provider_declined"
	ReasonVerifyFailed     = "verify_failed"
	ReasonTimeoutRetry     = "timeout_retry"
	ReasonUnknownPlan      = "unknown_plan"
	ReasonIdentityRequired = "identity_required"
	ReasonIdentityMismatch = "identity_mismatch"
	ReasonNotConfigured    = "not_configured"
)

// ReconcileOutcome reports what a callback did. A non-empty ReasonCode means
// no entitlement state was touched.
type ReconcileOutcome struct {
	ReasonCode string
	PlanName   string
	Tier       string
	EndDate    *time.Time
	Duplicate  bool
}

func (o *ReconcileOutcome) Succeeded() bool {
	return o.ReasonCode == ""
}
