package router

import (
	"strings"
	"time"

	"github.com/mkang-dev/ToonGate/app/controllers"
	"github.com/mkang-dev/ToonGate/internal/pkg/constants"
	"github.com/mkang-dev/ToonGate/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
)

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			// API routes and payment legs are exempt: callbacks and webhooks
			// arrive from the gateways without our CSRF cookie.
			return strings.HasPrefix(c.Path(), "/api/") || strings.HasPrefix(c.Path(), "/payment/")
		},
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))
	group.Get(constants.PublicRoute, loggedInMiddleware, controllers.HandleStart)
	group.Get("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Post("/login", loggedInMiddleware, controllers.HandleAuthLogin)
	group.Get("/register", loggedInMiddleware, controllers.HandleAuthRegister)
	group.Post("/register", loggedInMiddleware, controllers.HandleAuthRegister)

	// Checkout is a GET redirect flow: the state token, not the CSRF cookie,
	// protects the payment itself.
	group.Get(constants.CheckoutRoute+"/:plan", loggedInMiddleware, controllers.HandleCheckout)
}
