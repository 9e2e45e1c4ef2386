package router

import (
	"github.com/mkang-dev/ToonGate/app/controllers"
	"github.com/mkang-dev/ToonGate/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	// Entitlement for signed-in readers; the day-pass check works on the
	// anonymous payment cookie alone.
	v1.Get("/entitlement", middleware.RequireAPISessionAuth, controllers.HandleAPIEntitlement)
	v1.Get("/daypass", controllers.HandleAPIDayPass)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
