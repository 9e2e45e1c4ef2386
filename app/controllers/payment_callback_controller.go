package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/billing"
	"github.com/mkang-dev/ToonGate/internal/pkg/env"
	"github.com/mkang-dev/ToonGate/internal/pkg/metrics/counter"
	"github.com/mkang-dev/ToonGate/internal/pkg/paysession"
	"github.com/mkang-dev/ToonGate/internal/pkg/session"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// HandlePaymentCallback is the redirect return leg of a checkout. The signed
// state token binds the callback to the subject that started the payment; the
// provider reference in the query is verified against the provider before any
// entitlement is written.
func HandlePaymentCallback(c *fiber.Ctx) error {
	svc := getBillingService()

	claims, err := svc.VerifyCheckoutState(c.Query("state"))
	if err != nil {
		log.Printf("payment callback: state verification failed: %v", err)
		return redirectFailed(c, billing.ReasonVerifyFailed)
	}

	var subject billing.Subject
	if claims.UserID != 0 {
		// The callback must come back on the session that started checkout.
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn || userCtx.UserID != claims.UserID {
			return redirectFailed(c, billing.ReasonIdentityMismatch)
		}
		subject = billing.UserSubject{UserID: claims.UserID}
	} else {
		if paysession.Read(c) != claims.SessionID {
			return redirectFailed(c, billing.ReasonIdentityMismatch)
		}
		subject = billing.AnonymousSubject{SessionID: claims.SessionID}
	}

	// Each provider appends its own reference parameter on the way back.
	reference := c.Query("ref")
	if reference == "" {
		reference = c.Query("paymentKey")
	}
	subscriptionRef := c.Query("authKey")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	_, event, err := svc.RecordPaymentEvent(ctx, claims.Provider, "", "callback", string(c.Request().URI().QueryString()))
	if err != nil {
		log.Printf("payment callback: failed to record event: %v", err)
	}

	outcome, err := svc.ReconcileCallback(ctx, billing.CallbackInput{
		Subject:         subject,
		Provider:        claims.Provider,
		PlanName:        claims.Plan,
		Reference:       reference,
		SubscriptionRef: subscriptionRef,
	})
	if event != nil {
		_ = svc.MarkPaymentEventProcessed(ctx, event.ID, err)
	}
	if err != nil {
		log.Printf("payment callback: reconciliation failed: %v", err)
		return redirectFailed(c, billing.ReasonTimeoutRetry)
	}

	if mErr := counter.AddReconcileOutcome(outcome.ReasonCode); mErr != nil {
		log.Printf("reconcile counter failed: %v", mErr)
	}

	if !outcome.Succeeded() {
		return redirectFailed(c, outcome.ReasonCode)
	}

	// Invalidate the session-cached tier so the next page load sees the grant.
	if claims.UserID != 0 {
		_ = session.SetSessionValue(c, "user_tier", "")
	}

	return c.Redirect("/payment/success?plan="+outcome.PlanName, fiber.StatusSeeOther)
}

// webhookEnvelope is the superset of the two providers' delivery shapes.
type webhookEnvelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"eventType"`
	Data      struct {
		// Stripe wraps the session in data.object.
		Object struct {
			ID           string            `json:"id"`
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"object"`
		// Toss puts the payment object directly in data.
		PaymentKey string            `json:"paymentKey"`
		Metadata   map[string]string `json:"metadata"`
	} `json:"data"`
}

// HandlePaymentWebhook is the server-to-server confirmation leg. Deliveries
// are deduplicated by provider event id, so redelivery and the redirect racing
// this endpoint both collapse into one grant.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	provider := strings.ToLower(c.Params("provider"))
	if provider != models.PaymentProviderToss && provider != models.PaymentProviderStripe {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
	}

	body := c.Body()
	if provider == models.PaymentProviderStripe {
		if secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", ""); secret != "" {
			if _, err := webhook.ConstructEvent(body, c.Get("Stripe-Signature"), secret); err != nil {
				log.Printf("stripe webhook: signature verification failed: %v", err)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
			}
		}
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	eventType := envelope.Type
	if eventType == "" {
		eventType = envelope.EventType
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	svc := getBillingService()
	created, event, err := svc.RecordPaymentEvent(ctx, provider, envelope.ID, eventType, string(body))
	if err != nil {
		log.Printf("webhook: failed to record event: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage failure"})
	}
	if !created {
		// Redelivery of an already-stored event.
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	input, ok := webhookCallbackInput(provider, envelope)
	if !ok {
		// Events we do not act on are stored and acknowledged.
		_ = svc.MarkPaymentEventProcessed(ctx, event.ID, nil)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	outcome, err := svc.ReconcileCallback(ctx, input)
	if err != nil {
		_ = svc.MarkPaymentEventProcessed(ctx, event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation failure"})
	}

	if mErr := counter.AddReconcileOutcome(outcome.ReasonCode); mErr != nil {
		log.Printf("reconcile counter failed: %v", mErr)
	}

	if outcome.ReasonCode == billing.ReasonTimeoutRetry {
		// Unknown outcome: signal the provider to redeliver.
		_ = svc.MarkPaymentEventProcessed(ctx, event.ID, fmt.Errorf("provider unreachable"))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "retry"})
	}

	var procErr error
	if !outcome.Succeeded() {
		procErr = fmt.Errorf("reconciliation rejected: %s", outcome.ReasonCode)
	}
	_ = svc.MarkPaymentEventProcessed(ctx, event.ID, procErr)

	return c.JSON(fiber.Map{"status": "ok", "duplicate": outcome.Duplicate})
}

// webhookCallbackInput maps a provider delivery onto the normalized callback.
// The subject comes from the metadata stamped at intent creation.
func webhookCallbackInput(provider string, envelope webhookEnvelope) (billing.CallbackInput, bool) {
	metadata := envelope.Data.Metadata
	reference := envelope.Data.PaymentKey
	subscriptionRef := ""
	if provider == models.PaymentProviderStripe {
		metadata = envelope.Data.Object.Metadata
		reference = envelope.Data.Object.ID
		subscriptionRef = envelope.Data.Object.Subscription
	}

	plan := metadata["plan"]
	if plan == "" || reference == "" {
		return billing.CallbackInput{}, false
	}

	input := billing.CallbackInput{
		Provider:        provider,
		PlanName:        plan,
		Reference:       reference,
		SubscriptionRef: subscriptionRef,
	}
	if rawUserID := metadata["user_id"]; rawUserID != "" {
		userID, err := strconv.ParseUint(rawUserID, 10, 64)
		if err != nil {
			return billing.CallbackInput{}, false
		}
		input.Subject = billing.UserSubject{UserID: uint(userID)}
	} else if sessionID := metadata["session_id"]; sessionID != "" {
		input.Subject = billing.AnonymousSubject{SessionID: sessionID}
	} else {
		return billing.CallbackInput{}, false
	}
	return input, true
}

// reasonMessages maps machine-readable failure codes to what the reader sees.
// Raw provider errors never surface here.
var reasonMessages = map[string]string{
	billing.ReasonProviderDeclined: "The payment was declined. No charge was made.",
	billing.ReasonVerifyFailed:     "We could not confirm this payment. If you were charged, it will be reversed.",
	billing.ReasonTimeoutRetry:     "The payment service did not respond. Please try again in a moment.",
	billing.ReasonUnknownPlan:      "This plan does not exist.",
	billing.ReasonIdentityRequired: "Please sign in before buying this plan.",
	billing.ReasonIdentityMismatch: "This payment belongs to a different account.",
	billing.ReasonNotConfigured:    "Payments are temporarily unavailable. Please try again later.",
}

func HandlePaymentSuccess(c *fiber.Ctx) error {
	return c.Render("payment_success", fiber.Map{
		"Title": "Payment complete",
		"Plan":  c.Query("plan"),
	}, "layouts/main")
}

func HandlePaymentFailed(c *fiber.Ctx) error {
	reason := c.Query("reason")
	message, ok := reasonMessages[reason]
	if !ok {
		message = "The payment could not be completed."
	}
	return c.Render("payment_failed", fiber.Map{
		"Title":    "Payment failed",
		"Reason":   reason,
		"Message":  message,
		"CanRetry": reason == billing.ReasonTimeoutRetry || reason == billing.ReasonNotConfigured,
	}, "layouts/main")
}

func redirectFailed(c *fiber.Ctx, reason string) error {
	return c.Redirect("/payment/failed?reason="+reason, fiber.StatusSeeOther)
}
