package controllers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mkang-dev/ToonGate/internal/pkg/paysession"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// HandleAPIEntitlement returns the authenticated caller's entitlement. The
// active flag is derived from the stored end date at read time.
func HandleAPIEntitlement(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ent, err := getBillingService().GetEntitlement(c.Context(), userCtx.UserID)
	if err != nil {
		log.Printf("entitlement read failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "entitlement lookup failed",
		})
	}

	resp := fiber.Map{
		"tier":   string(ent.Tier),
		"active": ent.ActiveAt(time.Now()),
	}
	if ent.EndDate != nil {
		resp["end_date"] = ent.EndDate
	}
	return c.JSON(resp)
}

// HandleAPIDayPass reports whether the caller's anonymous payment session
// holds an unexpired day pass. Polled by the UI for signed-out viewers.
func HandleAPIDayPass(c *fiber.Ctx) error {
	token := paysession.Read(c)

	ent, err := getBillingService().GetAnonymousEntitlement(c.Context(), token)
	if err != nil {
		log.Printf("day pass read failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "entitlement lookup failed",
		})
	}

	resp := fiber.Map{
		"active": ent.ActiveAt(time.Now()),
	}
	if ent.EndDate != nil {
		resp["end_date"] = ent.EndDate
	}
	return c.JSON(resp)
}
