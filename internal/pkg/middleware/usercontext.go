package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mkang-dev/ToonGate/app/models"
	"github.com/mkang-dev/ToonGate/internal/pkg/database"
	"github.com/mkang-dev/ToonGate/internal/pkg/entitlements"
	"github.com/mkang-dev/ToonGate/internal/pkg/session"
	"github.com/mkang-dev/ToonGate/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request.
// This centralizes user session handling and eliminates code duplication.
func UserContextMiddleware(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
			Tier:       string(entitlements.TierFree),
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
		return c.Next()
	}

	userID := sess.Get(usercontext.KeyUserID)
	if userID == nil {
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
			Tier:       string(entitlements.TierFree),
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
		return c.Next()
	}

	username := session.GetSessionValue(c, usercontext.KeyUsername)
	avatar := session.GetSessionValue(c, usercontext.KeyAvatar)
	isAdmin := sess.Get(usercontext.KeyIsAdmin)

	// Session-first tier resolution. The stored tier only counts while the
	// subscription row reads as active; otherwise every request would keep a
	// lapsed tier alive for the cookie lifetime.
	tier := session.GetSessionValue(c, "user_tier")
	if tier == "" {
		tier = string(resolveTier(userID.(uint)))
		_ = session.SetSessionValue(c, "user_tier", tier)
	}

	userCtx := usercontext.UserContext{
		UserID:     userID.(uint),
		Username:   username,
		Avatar:     avatar,
		IsLoggedIn: true,
		IsAdmin:    isAdmin != nil && isAdmin.(bool),
		Tier:       tier,
	}
	c.Locals("USER_CONTEXT", userCtx)

	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUsername, username)
	c.Locals(usercontext.KeyUserID, userID.(uint))
	c.Locals(usercontext.KeyIsAdmin, userCtx.IsAdmin)

	session.SetSessionValue(c, usercontext.KeyUsername, username)

	return c.Next()
}

func resolveTier(userID uint) entitlements.Tier {
	db := database.GetDB()
	if db == nil {
		return entitlements.TierFree
	}
	var sub models.Subscription
	if err := db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return entitlements.TierFree
	}
	ent := entitlements.Entitlement{
		Tier:    entitlements.NormalizeTier(sub.Tier),
		Status:  sub.Status,
		EndDate: sub.EndDate,
	}
	if !ent.ActiveAt(time.Now()) {
		return entitlements.TierFree
	}
	return ent.Tier
}
