package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/entitlements"
	"github.com/mkang-dev/ToonGate/internal/pkg/gateway"
	"github.com/mkang-dev/ToonGate/internal/pkg/region"
)

// memoryRepo mirrors the conditional-update semantics of the GORM repository:
// a grant write with an already-applied transaction ref changes nothing.
type memoryRepo struct {
	subs   map[uint]*models.Subscription
	passes map[string]*models.AnonymousDayPass
	events map[string]*models.PaymentEvent

	subWrites int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		subs:   make(map[uint]*models.Subscription),
		passes: make(map[string]*models.AnonymousDayPass),
		events: make(map[string]*models.PaymentEvent),
	}
}

func (r *memoryRepo) GetSubscriptionByUser(userID uint) (*models.Subscription, error) {
	if sub, ok := r.subs[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryRepo) UpsertSubscriptionGrant(sub *models.Subscription) (bool, *models.Subscription, error) {
	existing, ok := r.subs[sub.UserID]
	if ok && existing.ProviderTransactionRef == sub.ProviderTransactionRef {
		cp := *existing
		return false, &cp, nil
	}
	cp := *sub
	r.subs[sub.UserID] = &cp
	r.subWrites++
	out := cp
	return true, &out, nil
}

func (r *memoryRepo) GetDayPassBySession(sessionID string) (*models.AnonymousDayPass, error) {
	if pass, ok := r.passes[sessionID]; ok {
		cp := *pass
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryRepo) UpsertDayPassGrant(pass *models.AnonymousDayPass) (bool, *models.AnonymousDayPass, error) {
	existing, ok := r.passes[pass.SessionID]
	if ok && existing.TransactionRef == pass.TransactionRef {
		cp := *existing
		return false, &cp, nil
	}
	cp := *pass
	r.passes[pass.SessionID] = &cp
	out := cp
	return true, &out, nil
}

func (r *memoryRepo) CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *event
	cp.ID = uint(len(r.events) + 1)
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *memoryRepo) MarkPaymentEventProcessed(id uint, processingError string) error {
	now := time.Now()
	for _, event := range r.events {
		if event.ID == id {
			event.ProcessedAt = &now
			event.ProcessingError = processingError
		}
	}
	return nil
}

// fakeGateway scripts provider outcomes per reference.
type fakeGateway struct {
	provider string

	captureResults map[string]*gateway.CaptureResult
	captureErrs    map[string]error
	subStatuses    map[string]gateway.SubscriptionStatus
	subStatusErrs  map[string]error

	captureCalls int
}

func (g *fakeGateway) Provider() string { return g.provider }

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	return "cust_" + email, nil
}

func (g *fakeGateway) CreateOneTimeIntent(ctx context.Context, in gateway.OneTimeIntentInput) (*gateway.Intent, error) {
	return &gateway.Intent{Reference: "ref_onetime", RedirectURL: "https://pay.example/approve"}, nil
}

func (g *fakeGateway) CreateRecurringPlan(ctx context.Context, in gateway.RecurringPlanInput) (string, error) {
	return "plan_" + in.Name, nil
}

func (g *fakeGateway) CreateSubscriptionIntent(ctx context.Context, in gateway.SubscriptionIntentInput) (*gateway.Intent, error) {
	return &gateway.Intent{Reference: "ref_sub", RedirectURL: "https://pay.example/approve-sub"}, nil
}

func (g *fakeGateway) CaptureOrVerify(ctx context.Context, reference string, expectedAmount int64) (*gateway.CaptureResult, error) {
	g.captureCalls++
	if err, ok := g.captureErrs[reference]; ok {
		return nil, err
	}
	if res, ok := g.captureResults[reference]; ok {
		return res, nil
	}
	return &gateway.CaptureResult{Succeeded: false, RawStatus: "UNKNOWN"}, nil
}

func (g *fakeGateway) GetSubscriptionStatus(ctx context.Context, reference string) (gateway.SubscriptionStatus, error) {
	if err, ok := g.subStatusErrs[reference]; ok {
		return gateway.StatusInactive, err
	}
	if status, ok := g.subStatuses[reference]; ok {
		return status, nil
	}
	return gateway.StatusInactive, nil
}

func newTestService(repo Repository, clients ...gateway.Client) *Service {
	resolver := &region.Resolver{
		LookupURL:       "http://127.0.0.1:1",
		DefaultDomestic: false,
		HTTPClient:      &http.Client{Timeout: time.Second},
	}
	return NewService(repo, resolver, "https://toongate.test", "test-secret", clients...)
}

func TestReconcileAnonymousDayPass(t *testing.T) {
	repo := newMemoryRepo()
	stripe := &fakeGateway{
		provider: models.PaymentProviderStripe,
		captureResults: map[string]*gateway.CaptureResult{
			"cs_123": {Succeeded: true, RawStatus: "paid"},
		},
	}
	svc := newTestService(repo, stripe)

	outcome, err := svc.ReconcileCallback(context.Background(), CallbackInput{
		Subject:   AnonymousSubject{SessionID: "anon-1"},
		Provider:  models.PaymentProviderStripe,
		PlanName:  "daypass",
		Reference: "cs_123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Succeeded() {
		t.Fatalf("expected success, got reason %q", outcome.ReasonCode)
	}
	if outcome.Duplicate {
		t.Fatalf("first reconciliation must not be a duplicate")
	}

	ent, err := svc.GetAnonymousEntitlement(context.Background(), "anon-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ent.Active() {
		t.Fatalf("expected day pass to be active right after the grant")
	}
	if ent.Tier != entitlements.TierDayPass {
		t.Fatalf("expected daypass tier, got %q", ent.Tier)
	}
	if ent.ActiveAt(time.Now().Add(25 * time.Hour)) {
		t.Fatalf("expected day pass to be inactive after the pass window")
	}
}

func TestReconcilePendingApprovalGrantsProvisionally(t *testing.T) {
	repo := newMemoryRepo()
	toss := &fakeGateway{
		provider: models.PaymentProviderToss,
		subStatuses: map[string]gateway.SubscriptionStatus{
			"auth_1": gateway.StatusPendingApproval,
		},
	}
	svc := newTestService(repo, toss)

	outcome, err := svc.ReconcileCallback(context.Background(), CallbackInput{
		Subject:         UserSubject{UserID: 7, Email: "reader@example.com"},
		Provider:        models.PaymentProviderToss,
		PlanName:        "membership",
		SubscriptionRef: "auth_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Succeeded() {
		t.Fatalf("pending approval must grant provisionally, got reason %q", outcome.ReasonCode)
	}
	if outcome.EndDate == nil {
		t.Fatalf("expected a computed cycle end date")
	}
	wantEnd := time.Now().Add(7 * 24 * time.Hour)
	if diff := outcome.EndDate.Sub(wantEnd); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("end date %v not within one billing cycle of now", outcome.EndDate)
	}

	ent, err := svc.GetEntitlement(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ent.Active() || ent.Tier != entitlements.TierMember {
		t.Fatalf("expected active member entitlement, got %+v", ent)
	}
}

func TestReconcileDuplicateReferenceIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	stripe := &fakeGateway{
		provider: models.PaymentProviderStripe,
		subStatuses: map[string]gateway.SubscriptionStatus{
			"sub_9": gateway.StatusActive,
		},
	}
	svc := newTestService(repo, stripe)

	in := CallbackInput{
		Subject:         UserSubject{UserID: 3, Email: "dup@example.com"},
		Provider:        models.PaymentProviderStripe,
		PlanName:        "membership",
		SubscriptionRef: "sub_9",
	}

	first, err := svc.ReconcileCallback(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.ReconcileCallback(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !first.Succeeded() || !second.Succeeded() {
		t.Fatalf("both deliveries must report success")
	}
	if first.Duplicate {
		t.Fatalf("first delivery flagged as duplicate")
	}
	if !second.Duplicate {
		t.Fatalf("second delivery must be detected as a duplicate")
	}
	if !first.EndDate.Equal(*second.EndDate) {
		t.Fatalf("duplicate delivery changed the end date: %v vs %v", first.EndDate, second.EndDate)
	}
	if repo.subWrites != 1 {
		t.Fatalf("expected exactly one subscription write, got %d", repo.subWrites)
	}
}

func TestReconcileFailuresDoNotMutateState(t *testing.T) {
	tests := []struct {
		name       string
		input      CallbackInput
		captureErr error
		capture    *gateway.CaptureResult
		wantReason string
	}{
		{
			name: "unknown plan",
			input: CallbackInput{
				Subject:  AnonymousSubject{SessionID: "s1"},
				Provider: models.PaymentProviderStripe,
				PlanName: "lifetime-gold",
			},
			wantReason: ReasonUnknownPlan,
		},
		{
			name: "recurring without identity fails closed",
			input: CallbackInput{
				Subject:   AnonymousSubject{SessionID: "s1"},
				Provider:  models.PaymentProviderStripe,
				PlanName:  "membership",
				Reference: "cs_1",
			},
			wantReason: ReasonIdentityRequired,
		},
		{
			name: "no subject at all fails closed",
			input: CallbackInput{
				Provider:  models.PaymentProviderStripe,
				PlanName:  "daypass",
				Reference: "cs_1",
			},
			wantReason: ReasonIdentityRequired,
		},
		{
			name: "provider decline",
			input: CallbackInput{
				Subject:   AnonymousSubject{SessionID: "s1"},
				Provider:  models.PaymentProviderStripe,
				PlanName:  "daypass",
				Reference: "cs_declined",
			},
			captureErr: gateway.ErrRejected,
			wantReason: ReasonProviderDeclined,
		},
		{
			name: "provider unreachable routes to retry",
			input: CallbackInput{
				Subject:   AnonymousSubject{SessionID: "s1"},
				Provider:  models.PaymentProviderStripe,
				PlanName:  "daypass",
				Reference: "cs_timeout",
			},
			captureErr: gateway.ErrUnreachable,
			wantReason: ReasonTimeoutRetry,
		},
		{
			name: "missing credentials",
			input: CallbackInput{
				Subject:   AnonymousSubject{SessionID: "s1"},
				Provider:  models.PaymentProviderStripe,
				PlanName:  "daypass",
				Reference: "cs_noauth",
			},
			captureErr: gateway.ErrNotConfigured,
			wantReason: ReasonNotConfigured,
		},
		{
			name: "unpaid session",
			input: CallbackInput{
				Subject:   AnonymousSubject{SessionID: "s1"},
				Provider:  models.PaymentProviderStripe,
				PlanName:  "daypass",
				Reference: "cs_unpaid",
			},
			capture:    &gateway.CaptureResult{Succeeded: false, RawStatus: "unpaid"},
			wantReason: ReasonVerifyFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepo()
			stripe := &fakeGateway{
				provider:       models.PaymentProviderStripe,
				captureErrs:    map[string]error{},
				captureResults: map[string]*gateway.CaptureResult{},
			}
			if tt.captureErr != nil {
				stripe.captureErrs[tt.input.Reference] = tt.captureErr
			}
			if tt.capture != nil {
				stripe.captureResults[tt.input.Reference] = tt.capture
			}
			svc := newTestService(repo, stripe)

			outcome, err := svc.ReconcileCallback(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.ReasonCode != tt.wantReason {
				t.Fatalf("reason = %q, want %q", outcome.ReasonCode, tt.wantReason)
			}
			if len(repo.subs) != 0 || len(repo.passes) != 0 {
				t.Fatalf("failed reconciliation mutated entitlement state")
			}
		})
	}
}

func TestMergeDayPassOntoUser(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	expires := time.Now().Add(20 * time.Hour)
	repo.passes["anon-7"] = &models.AnonymousDayPass{
		SessionID:      "anon-7",
		Provider:       models.PaymentProviderToss,
		TransactionRef: "pay_77",
		CreatedAt:      time.Now().Add(-4 * time.Hour),
		ExpiresAt:      expires,
	}

	if err := svc.MergeAnonymousDayPass(context.Background(), "anon-7", 11); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ent, err := svc.GetEntitlement(context.Background(), 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ent.Active() || ent.Tier != entitlements.TierDayPass {
		t.Fatalf("expected merged day pass entitlement, got %+v", ent)
	}
	if !ent.EndDate.Equal(expires) {
		t.Fatalf("merge changed the pass end date: %v, want %v", ent.EndDate, expires)
	}

	// Merging again on the next login must not extend the window.
	if err := svc.MergeAnonymousDayPass(context.Background(), "anon-7", 11); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.subWrites != 1 {
		t.Fatalf("expected one subscription write across repeated merges, got %d", repo.subWrites)
	}
}

func TestMergeDoesNotDowngradeActiveMember(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	memberEnd := time.Now().Add(5 * 24 * time.Hour)
	repo.subs[11] = &models.Subscription{
		UserID:                 11,
		Tier:                   string(entitlements.TierMember),
		Status:                 models.SubscriptionStatusActive,
		EndDate:                &memberEnd,
		Provider:               models.PaymentProviderStripe,
		ProviderTransactionRef: "sub_member",
	}
	repo.passes["anon-8"] = &models.AnonymousDayPass{
		SessionID:      "anon-8",
		Provider:       models.PaymentProviderToss,
		TransactionRef: "pay_88",
		ExpiresAt:      time.Now().Add(10 * time.Hour),
	}

	if err := svc.MergeAnonymousDayPass(context.Background(), "anon-8", 11); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ent, err := svc.GetEntitlement(context.Background(), 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.Tier != entitlements.TierMember {
		t.Fatalf("merge downgraded tier to %q", ent.Tier)
	}
	if !ent.EndDate.Equal(memberEnd) {
		t.Fatalf("merge changed the member end date: %v, want %v", ent.EndDate, memberEnd)
	}
}

func TestMergeReplacesExpiredMember(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	pastEnd := time.Now().Add(-time.Hour)
	repo.subs[12] = &models.Subscription{
		UserID:                 12,
		Tier:                   string(entitlements.TierMember),
		Status:                 models.SubscriptionStatusActive,
		EndDate:                &pastEnd,
		ProviderTransactionRef: "sub_old",
	}
	passEnd := time.Now().Add(12 * time.Hour)
	repo.passes["anon-9"] = &models.AnonymousDayPass{
		SessionID:      "anon-9",
		Provider:       models.PaymentProviderToss,
		TransactionRef: "pay_99",
		ExpiresAt:      passEnd,
	}

	if err := svc.MergeAnonymousDayPass(context.Background(), "anon-9", 12); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ent, err := svc.GetEntitlement(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.Tier != entitlements.TierDayPass || !ent.Active() {
		t.Fatalf("expected day pass to replace the expired membership, got %+v", ent)
	}
}

func TestMergeWithoutPassIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	if err := svc.MergeAnonymousDayPass(context.Background(), "no-such-session", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.subs) != 0 {
		t.Fatalf("merge without a pass created a subscription")
	}

	repo.passes["stale"] = &models.AnonymousDayPass{
		SessionID:      "stale",
		TransactionRef: "pay_old",
		ExpiresAt:      time.Now().Add(-time.Minute),
	}
	if err := svc.MergeAnonymousDayPass(context.Background(), "stale", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.subs) != 0 {
		t.Fatalf("expired pass must not be merged")
	}
}

func TestGetEntitlementDerivesExpiry(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	pastEnd := time.Now().Add(-time.Minute)
	repo.subs[2] = &models.Subscription{
		UserID:  2,
		Tier:    string(entitlements.TierMember),
		Status:  models.SubscriptionStatusActive,
		EndDate: &pastEnd,
	}

	ent, err := svc.GetEntitlement(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ent.Active() {
		t.Fatalf("stored active status with a past end date must read as inactive")
	}
	if ent.Status != models.SubscriptionStatusActive {
		t.Fatalf("derived expiry must not rewrite the stored status")
	}
}

func TestInitiateCheckoutValidation(t *testing.T) {
	repo := newMemoryRepo()
	stripe := &fakeGateway{provider: models.PaymentProviderStripe}
	svc := newTestService(repo, stripe)

	_, err := svc.InitiateCheckout(context.Background(), CheckoutInput{
		Subject:  UserSubject{UserID: 1, Email: "a@example.com"},
		PlanName: "platinum",
	})
	if err == nil || !strings.Contains(err.Error(), "unknown plan") {
		t.Fatalf("expected unknown plan error, got %v", err)
	}

	_, err = svc.InitiateCheckout(context.Background(), CheckoutInput{
		Subject:  AnonymousSubject{SessionID: "anon-1"},
		PlanName: "membership",
	})
	if !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected identity required for anonymous membership, got %v", err)
	}
}

func TestInitiateCheckoutBuildsBoundRedirect(t *testing.T) {
	repo := newMemoryRepo()
	stripe := &fakeGateway{provider: models.PaymentProviderStripe}
	svc := newTestService(repo, stripe)

	// Fallback region is international, so the stripe gateway handles this.
	res, err := svc.InitiateCheckout(context.Background(), CheckoutInput{
		Subject:  AnonymousSubject{SessionID: "anon-1"},
		PlanName: "daypass",
		ClientIP: "127.0.0.1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != models.PaymentProviderStripe {
		t.Fatalf("fallback region must select the international gateway, got %q", res.Provider)
	}
	if res.RedirectURL == "" || res.Reference == "" {
		t.Fatalf("expected a provider redirect and reference, got %+v", res)
	}
	if res.Plan == nil || res.Plan.Name != "daypass" {
		t.Fatalf("expected the daypass plan on the result")
	}
}

func TestRecordPaymentEventDeduplicates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	created, event, err := svc.RecordPaymentEvent(context.Background(), "stripe", "evt_1", "checkout.session.completed", `{"id":"evt_1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || event == nil {
		t.Fatalf("expected the first delivery to be recorded")
	}

	created, _, err = svc.RecordPaymentEvent(context.Background(), "stripe", "evt_1", "checkout.session.completed", `{"id":"evt_1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("duplicate delivery must not be recorded twice")
	}

	// Missing event ids fall back to a payload hash for dedupe.
	created, _, err = svc.RecordPaymentEvent(context.Background(), "toss", "", `payment`, `{"paymentKey":"p1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("expected hashed event id to be recorded")
	}
	created, _, err = svc.RecordPaymentEvent(context.Background(), "toss", "", `payment`, `{"paymentKey":"p1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("identical payload without an event id must deduplicate by hash")
	}
}
