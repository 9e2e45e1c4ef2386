package controllers

import (
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/mkang-dev/ToonGate/internal/pkg/billing"
	"github.com/mkang-dev/ToonGate/internal/pkg/content"
	"github.com/mkang-dev/ToonGate/internal/pkg/database"
	"github.com/mkang-dev/ToonGate/internal/pkg/region"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// Session keys shared between auth and the user-context middleware.
const (
	AUTH_KEY       string = usercontext.AuthKey
	USER_ID        string = usercontext.KeyUserID
	USER_NAME      string = usercontext.KeyUsername
	USER_AVATAR    string = usercontext.KeyAvatar
	USER_IS_ADMIN  string = usercontext.KeyIsAdmin
	FROM_PROTECTED string = usercontext.KeyFromProtected
)

var (
	billingOnce sync.Once
	billingSvc  *billing.Service

	contentOnce     sync.Once
	contentProvider content.Provider

	regionOnce     sync.Once
	regionResolver *region.Resolver
)

// getBillingService lazily builds the shared billing service. Controllers run
// after SetupDatabase, so the DB handle is available on first use.
func getBillingService() *billing.Service {
	billingOnce.Do(func() {
		billingSvc = billing.NewServiceFromDB(database.GetDB())
	})
	return billingSvc
}

func getContentProvider() content.Provider {
	contentOnce.Do(func() {
		contentProvider = content.NewProvider(database.GetDB())
	})
	return contentProvider
}

func getRegionResolver() *region.Resolver {
	regionOnce.Do(func() {
		regionResolver = region.NewResolverFromEnv()
	})
	return regionResolver
}

func isLoggedIn(c *fiber.Ctx) bool {
	var fromProtected bool
	if protectedValue := c.Locals(FROM_PROTECTED); protectedValue != nil {
		fromProtected = protectedValue.(bool)
	}

	return fromProtected
}

// GetClientIP determines the actual client IP address considering proxies.
// The region resolver only needs one best-effort address.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	if xff := c.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client.
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	ip := c.IP()
	// Unwrap IPv4-mapped-IPv6 addresses (::ffff:203.0.113.9).
	if strings.HasPrefix(ip, "::ffff:") && strings.Contains(ip, ".") {
		return strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}
