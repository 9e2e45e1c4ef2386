package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/billing"
	"github.com/mkang-dev/ToonGate/internal/pkg/database"
	"github.com/mkang-dev/ToonGate/internal/pkg/gateway"
	"github.com/mkang-dev/ToonGate/internal/pkg/metrics/counter"
	"github.com/mkang-dev/ToonGate/internal/pkg/paysession"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// HandleCheckout starts a payment for the named plan and redirects the caller
// to the gateway's approval page.
func HandleCheckout(c *fiber.Ctx) error {
	planName := c.Params("plan")
	userCtx := usercontext.GetUserContext(c)

	var subject billing.Subject
	if userCtx.IsLoggedIn {
		var user models.User
		if err := database.GetDB().First(&user, userCtx.UserID).Error; err != nil {
			log.Printf("checkout: failed to load user %d: %v", userCtx.UserID, err)
			return c.Redirect("/payment/failed?reason="+billing.ReasonTimeoutRetry, fiber.StatusSeeOther)
		}
		subject = billing.UserSubject{UserID: user.ID, Email: user.Email, Name: user.Name}
	} else {
		token, err := paysession.Ensure(c)
		if err != nil {
			log.Printf("checkout: failed to issue payment session: %v", err)
			return c.Redirect("/payment/failed?reason="+billing.ReasonTimeoutRetry, fiber.StatusSeeOther)
		}
		subject = billing.AnonymousSubject{SessionID: token}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := getBillingService().InitiateCheckout(ctx, billing.CheckoutInput{
		Subject:  subject,
		PlanName: planName,
		ClientIP: GetClientIP(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownPlan):
			fm := fiber.Map{"type": "error", "message": "Unknown plan."}
			return flash.WithError(c, fm).Redirect("/")
		case errors.Is(err, billing.ErrIdentityRequired):
			fm := fiber.Map{"type": "error", "message": "Please sign in to start a membership."}
			return flash.WithError(c, fm).Redirect("/login")
		case gateway.IsNotConfigured(err):
			log.Printf("checkout: gateway not configured: %v", err)
			return c.Redirect("/payment/failed?reason="+billing.ReasonNotConfigured, fiber.StatusSeeOther)
		case gateway.IsRejected(err):
			return c.Redirect("/payment/failed?reason="+billing.ReasonProviderDeclined, fiber.StatusSeeOther)
		default:
			log.Printf("checkout: initiation failed: %v", err)
			return c.Redirect("/payment/failed?reason="+billing.ReasonTimeoutRetry, fiber.StatusSeeOther)
		}
	}

	if err := counter.AddCheckoutStarted(result.Plan.Name); err != nil {
		log.Printf("checkout counter failed: %v", err)
	}

	return c.Redirect(result.RedirectURL, fiber.StatusSeeOther)
}
