package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/catalog"
	"github.com/mkang-dev/ToonGate/internal/pkg/database"
	"github.com/mkang-dev/ToonGate/internal/pkg/statistics"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// HandleStart renders the landing page: catalog, regional pricing and the
// comic list.
func HandleStart(c *fiber.Ctx) error {
	var comics []models.Comic
	if err := database.GetDB().Order("id ASC").Limit(50).Find(&comics).Error; err != nil {
		log.Printf("comic list failed: %v", err)
	}

	reg := getRegionResolver().Resolve(c.Context(), GetClientIP(c))
	_, dayPassPrice := catalog.GetPlan("daypass", reg.IsDomestic)
	_, memberPrice := catalog.GetPlan("membership", reg.IsDomestic)

	userCtx := usercontext.GetUserContext(c)
	stats := statistics.GetStatisticsData()

	return c.Render("index", fiber.Map{
		"Title":        "ToonGate",
		"Flash":        flash.Get(c),
		"Comics":       comics,
		"LoggedIn":     userCtx.IsLoggedIn,
		"Username":     userCtx.Username,
		"Avatar":       userCtx.Avatar,
		"Tier":         userCtx.Tier,
		"DayPassPrice": catalog.FormatPrice(dayPassPrice.Amount, dayPassPrice.Currency),
		"MemberPrice":  catalog.FormatPrice(memberPrice.Amount, memberPrice.Currency),
		"Stats":        stats,
	}, "layouts/main")
}
