package paysession

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// CookieName carries the anonymous purchase token. Possession of the token is
// the only proof of day-pass ownership before the buyer has an account, so
// tokens must be unguessable and the cookie must outlive the purchase flow
// up to the eventual login.
const CookieName = "tg_pay_session"

const (
	tokenBytes     = 32
	cookieLifetime = 30 * 24 * time.Hour
)

// IssueToken generates a new cryptographically random session token.
func IssueToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Read returns the caller's payment session token, or "" when absent.
func Read(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Cookies(CookieName))
}

// Attach sets the payment session cookie on the response.
func Attach(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(cookieLifetime),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// Ensure returns the existing token or issues and attaches a fresh one.
func Ensure(c *fiber.Ctx) (string, error) {
	if token := Read(c); token != "" {
		return token, nil
	}
	token, err := IssueToken()
	if err != nil {
		return "", err
	}
	Attach(c, token)
	return token, nil
}
