package router

import (
	"github.com/mkang-dev/ToonGate/app/controllers"
	"github.com/mkang-dev/ToonGate/internal/pkg/constants"
	"github.com/mkang-dev/ToonGate/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Reader pages (free preview is open to everyone; the gate runs inside)
	app.Get("/comic/:id", loggedInMiddleware, controllers.HandleComic)
	app.Get("/comic/:id/episode/:index", loggedInMiddleware, controllers.HandleEpisode)

	// Payment redirect legs. The gateway calls back here after approval; the
	// signed state parameter carries the subject binding.
	app.Get(constants.PaymentCallbackRoute, loggedInMiddleware, controllers.HandlePaymentCallback)
	app.Get(constants.PaymentSuccessRoute, loggedInMiddleware, controllers.HandlePaymentSuccess)
	app.Get(constants.PaymentFailedRoute, loggedInMiddleware, controllers.HandlePaymentFailed)

	// Provider webhooks (no CSRF, signature-verified in controller)
	app.Post(constants.PaymentWebhookRoute+"/:provider", controllers.HandlePaymentWebhook)

	// Auth
	app.Post("/logout", middleware.RequireAuth, controllers.HandleAuthLogout)
}
