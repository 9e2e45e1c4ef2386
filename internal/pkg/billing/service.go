package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/catalog"
	"github.com/mkang-dev/ToonGate/internal/pkg/entitlements"
	"github.com/mkang-dev/ToonGate/internal/pkg/env"
	"github.com/mkang-dev/ToonGate/internal/pkg/gateway"
	"github.com/mkang-dev/ToonGate/internal/pkg/region"
	"github.com/mkang-dev/ToonGate/internal/pkg/security"
	"github.com/mkang-dev/ToonGate/internal/pkg/shortener"
	"gorm.io/gorm"
)

const checkoutStateTTL = time.Hour

var (
	// ErrUnknownPlan means the requested plan name is not in the catalog.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrIdentityRequired means the plan needs an authenticated account, but
	// the caller has none.
	ErrIdentityRequired = errors.New("plan requires a signed-in account")
)

// Service runs checkout initiation and callback reconciliation against the
// entitlement store. All provider traffic goes through the gateway.Client
// interface; the service never touches provider-specific payload shapes.
type Service struct {
	repo        Repository
	resolver    *region.Resolver
	gateways    map[string]gateway.Client
	baseURL     string
	stateSecret string
}

// NewService creates a billing service with injected collaborators.
func NewService(repo Repository, resolver *region.Resolver, baseURL, stateSecret string, clients ...gateway.Client) *Service {
	gateways := make(map[string]gateway.Client, len(clients))
	for _, c := range clients {
		gateways[c.Provider()] = c
	}
	return &Service{
		repo:        repo,
		resolver:    resolver,
		gateways:    gateways,
		baseURL:     strings.TrimRight(baseURL, "/"),
		stateSecret: stateSecret,
	}
}

// NewServiceFromDB wires the production service: GORM repository, env-driven
// region resolver and both gateway adapters.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(
		NewRepository(db),
		region.NewResolverFromEnv(),
		env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080"),
		env.GetEnv("CHECKOUT_STATE_SECRET", ""),
		gateway.NewTossClientFromEnv(),
		gateway.NewStripeClientFromEnv(),
	)
}

// InitiateCheckout resolves region and price, picks the gateway, creates the
// provider-side intent and returns the approval redirect. The returned state
// token in the redirect URL binds the callback to the initiating subject.
func (s *Service) InitiateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	reg := s.resolver.Resolve(ctx, in.ClientIP)
	plan, price := catalog.GetPlan(in.PlanName, reg.IsDomestic)
	if plan == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, in.PlanName)
	}

	user, isUser := in.Subject.(UserSubject)
	anon, isAnon := in.Subject.(AnonymousSubject)
	if plan.IsRecurring() && !isUser {
		return nil, ErrIdentityRequired
	}
	if !isUser && !isAnon {
		return nil, ErrIdentityRequired
	}

	provider := models.PaymentProviderStripe
	if reg.IsDomestic {
		provider = models.PaymentProviderToss
	}
	client, ok := s.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("no %s gateway registered: %w", provider, gateway.ErrNotConfigured)
	}

	orderCode, err := shortener.GenerateSecureSlug(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate order code: %w", err)
	}

	claims := security.CheckoutStateClaims{Plan: plan.Name, Provider: provider}
	customerRef := ""
	metadata := map[string]string{
		"plan":     plan.Name,
		"order_id": "tg_" + orderCode,
	}
	if isUser {
		claims.UserID = user.UserID
		metadata["user_id"] = fmt.Sprintf("%d", user.UserID)
		ref, err := client.CreateCustomer(ctx, user.Email, user.Name)
		if err != nil {
			return nil, err
		}
		customerRef = ref
	} else {
		claims.SessionID = anon.SessionID
		metadata["session_id"] = anon.SessionID
	}

	state, err := security.GenerateCheckoutState(claims, checkoutStateTTL, s.stateSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign checkout state: %w", err)
	}
	returnURL := fmt.Sprintf("%s/payment/callback?provider=%s&plan=%s&state=%s",
		s.baseURL, provider, url.QueryEscape(plan.Name), url.QueryEscape(state))
	cancelURL := fmt.Sprintf("%s/payment/failed?reason=%s", s.baseURL, ReasonProviderDeclined)

	var intent *gateway.Intent
	if plan.IsRecurring() {
		planRef, err := client.CreateRecurringPlan(ctx, gateway.RecurringPlanInput{
			Name:     plan.Name,
			Amount:   price.Amount,
			Currency: price.Currency,
			Cadence:  plan.Cadence,
		})
		if err != nil {
			return nil, err
		}
		intent, err = client.CreateSubscriptionIntent(ctx, gateway.SubscriptionIntentInput{
			PlanRef:     planRef,
			CustomerRef: customerRef,
			ReturnURL:   returnURL,
			CancelURL:   cancelURL,
			Metadata:    metadata,
		})
		if err != nil {
			return nil, err
		}
	} else {
		intent, err = client.CreateOneTimeIntent(ctx, gateway.OneTimeIntentInput{
			CustomerRef: customerRef,
			Email:       user.Email,
			Amount:      price.Amount,
			Currency:    price.Currency,
			OrderName:   fmt.Sprintf("%s (%s)", plan.Name, catalog.FormatPrice(price.Amount, price.Currency)),
			ReturnURL:   returnURL,
			CancelURL:   cancelURL,
			Metadata:    metadata,
		})
		if err != nil {
			return nil, err
		}
	}

	return &CheckoutResult{
		Provider:    provider,
		Reference:   intent.Reference,
		RedirectURL: intent.RedirectURL,
		Plan:        plan,
	}, nil
}

// VerifyCheckoutState validates a state token from a callback.
func (s *Service) VerifyCheckoutState(token string) (*security.CheckoutStateClaims, error) {
	return security.VerifyCheckoutState(token, s.stateSecret)
}

// ReconcileCallback turns a gateway notification into durable entitlement
// state. A non-nil error is an infrastructure fault; business failures come
// back as a reason code on the outcome with no entitlement mutation. Safe to
// call any number of times for the same reference from either the redirect or
// the webhook leg.
func (s *Service) ReconcileCallback(ctx context.Context, in CallbackInput) (*ReconcileOutcome, error) {
	plan, _ := catalog.GetPlan(in.PlanName, true)
	if plan == nil {
		return &ReconcileOutcome{ReasonCode: ReasonUnknownPlan, PlanName: in.PlanName}, nil
	}
	outcome := &ReconcileOutcome{PlanName: plan.Name, Tier: string(plan.Tier)}

	user, isUser := in.Subject.(UserSubject)
	anon, isAnon := in.Subject.(AnonymousSubject)
	if !isUser && !isAnon {
		outcome.ReasonCode = ReasonIdentityRequired
		return outcome, nil
	}
	if plan.IsRecurring() && !isUser {
		outcome.ReasonCode = ReasonIdentityRequired
		return outcome, nil
	}

	client, ok := s.gateways[in.Provider]
	if !ok {
		outcome.ReasonCode = ReasonNotConfigured
		return outcome, nil
	}

	if plan.IsRecurring() {
		ref := in.SubscriptionRef
		if ref == "" {
			ref = in.Reference
		}
		status, err := client.GetSubscriptionStatus(ctx, ref)
		if err != nil {
			outcome.ReasonCode = reasonFromGatewayError(err)
			return outcome, nil
		}
		// pending_approval is the redirect-before-webhook race: the grant is
		// provisional and the webhook corrects it within the same cycle.
		if status == gateway.StatusInactive {
			outcome.ReasonCode = ReasonVerifyFailed
			return outcome, nil
		}
		return s.grantSubscription(outcome, user.UserID, plan, in.Provider, ref, ref)
	}

	expected := s.expectedAmount(plan, in.Provider)
	result, err := client.CaptureOrVerify(ctx, in.Reference, expected)
	if err != nil {
		outcome.ReasonCode = reasonFromGatewayError(err)
		return outcome, nil
	}
	if !result.Succeeded {
		outcome.ReasonCode = ReasonVerifyFailed
		return outcome, nil
	}

	if isAnon {
		return s.grantDayPass(outcome, anon.SessionID, plan, in.Provider, in.Reference)
	}
	return s.grantSubscription(outcome, user.UserID, plan, in.Provider, "", in.Reference)
}

// expectedAmount is the price the chosen provider should have charged. The
// provider implies the region, so callback-time geography never changes the
// amount check.
func (s *Service) expectedAmount(plan *catalog.Plan, provider string) int64 {
	if provider == models.PaymentProviderToss {
		return plan.Domestic.Amount
	}
	return plan.Overseas.Amount
}

func (s *Service) grantSubscription(outcome *ReconcileOutcome, userID uint, plan *catalog.Plan, provider, subscriptionRef, txRef string) (*ReconcileOutcome, error) {
	end := time.Now().Add(plan.GrantWindow())
	sub := &models.Subscription{
		UserID:                  userID,
		Tier:                    string(plan.Tier),
		Status:                  models.SubscriptionStatusActive,
		EndDate:                 &end,
		Provider:                provider,
		ProviderSubscriptionRef: subscriptionRef,
		ProviderTransactionRef:  txRef,
	}
	changed, stored, err := s.repo.UpsertSubscriptionGrant(sub)
	if err != nil {
		return nil, err
	}
	outcome.Duplicate = !changed
	outcome.Tier = stored.Tier
	outcome.EndDate = stored.EndDate
	return outcome, nil
}

func (s *Service) grantDayPass(outcome *ReconcileOutcome, sessionID string, plan *catalog.Plan, provider, txRef string) (*ReconcileOutcome, error) {
	now := time.Now()
	pass := &models.AnonymousDayPass{
		SessionID:      sessionID,
		Provider:       provider,
		TransactionRef: txRef,
		CreatedAt:      now,
		ExpiresAt:      now.Add(plan.GrantWindow()),
	}
	changed, stored, err := s.repo.UpsertDayPassGrant(pass)
	if err != nil {
		return nil, err
	}
	outcome.Duplicate = !changed
	outcome.EndDate = &stored.ExpiresAt
	return outcome, nil
}

// MergeAnonymousDayPass transfers an unexpired day pass onto a user account.
// Called on every login; a no-op when there is no pass, the pass expired, the
// user already holds an equal-or-better active entitlement, or this pass was
// merged before.
func (s *Service) MergeAnonymousDayPass(ctx context.Context, sessionID string, userID uint) error {
	_ = ctx
	if sessionID == "" || userID == 0 {
		return nil
	}
	pass, err := s.repo.GetDayPassBySession(sessionID)
	if err != nil {
		return err
	}
	if pass == nil || !pass.ExpiresAt.After(time.Now()) {
		return nil
	}

	existing, err := s.repo.GetSubscriptionByUser(userID)
	if err != nil {
		return err
	}
	if existing != nil {
		current := entitlements.Entitlement{
			Tier:    entitlements.NormalizeTier(existing.Tier),
			Status:  existing.Status,
			EndDate: existing.EndDate,
		}
		if current.Active() && entitlements.TierRank(current.Tier) >= entitlements.TierRank(entitlements.TierDayPass) {
			return nil
		}
	}

	sub := &models.Subscription{
		UserID:                 userID,
		Tier:                   string(entitlements.TierDayPass),
		Status:                 models.SubscriptionStatusActive,
		EndDate:                &pass.ExpiresAt,
		Provider:               pass.Provider,
		ProviderTransactionRef: pass.TransactionRef,
	}
	_, _, err = s.repo.UpsertSubscriptionGrant(sub)
	return err
}

// GetEntitlement is the single read path for authenticated callers. Liveness
// is derived by the caller through Entitlement.ActiveAt; no write has to
// happen for an expired row to read as inactive.
func (s *Service) GetEntitlement(ctx context.Context, userID uint) (entitlements.Entitlement, error) {
	_ = ctx
	sub, err := s.repo.GetSubscriptionByUser(userID)
	if err != nil {
		return entitlements.Entitlement{Tier: entitlements.TierFree}, err
	}
	if sub == nil {
		return entitlements.Entitlement{Tier: entitlements.TierFree, Status: models.SubscriptionStatusFree}, nil
	}
	return entitlements.Entitlement{
		Tier:    entitlements.NormalizeTier(sub.Tier),
		Status:  sub.Status,
		EndDate: sub.EndDate,
	}, nil
}

// GetAnonymousEntitlement is the read path for cookie-only callers.
func (s *Service) GetAnonymousEntitlement(ctx context.Context, sessionID string) (entitlements.Entitlement, error) {
	_ = ctx
	if sessionID == "" {
		return entitlements.Entitlement{Tier: entitlements.TierFree, Status: models.SubscriptionStatusFree}, nil
	}
	pass, err := s.repo.GetDayPassBySession(sessionID)
	if err != nil {
		return entitlements.Entitlement{Tier: entitlements.TierFree}, err
	}
	if pass == nil {
		return entitlements.Entitlement{Tier: entitlements.TierFree, Status: models.SubscriptionStatusFree}, nil
	}
	return entitlements.Entitlement{
		Tier:    entitlements.TierDayPass,
		Status:  models.SubscriptionStatusActive,
		EndDate: &pass.ExpiresAt,
	}, nil
}

// RecordPaymentEvent persists a callback or webhook delivery idempotently.
// Returns created=false for a duplicate delivery.
func (s *Service) RecordPaymentEvent(ctx context.Context, provider, eventID, eventType, payloadJSON string) (bool, *models.PaymentEvent, error) {
	_ = ctx
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(payloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     payloadJSON,
	}
	return s.repo.CreatePaymentEventIfNotExists(event)
}

// MarkPaymentEventProcessed stamps an event with the processing result.
func (s *Service) MarkPaymentEventProcessed(ctx context.Context, eventID uint, processingErr error) error {
	_ = ctx
	if eventID == 0 {
		return errors.New("payment_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkPaymentEventProcessed(eventID, errMsg)
}

// reasonFromGatewayError maps adapter failures to redirect reason codes. An
// unreachable provider means the outcome is unknown, so the caller is routed
// to retry rather than to a terminal failure.
func reasonFromGatewayError(err error) string {
	switch {
	case gateway.IsNotConfigured(err):
		return ReasonNotConfigured
	case gateway.IsRejected(err):
		return ReasonProviderDeclined
	default:
		return ReasonTimeoutRetry
	}
}
