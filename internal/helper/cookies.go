package helper

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	AccessCookie  = "access"
	RefreshCookie = "refresh"
)

// CookieSettings carries the environment-driven cookie flags.
// Secure is true in production; SameSite defaults to Lax.
type CookieSettings struct {
	Secure   bool
	SameSite string
}

// SetAuthCookies sets the HttpOnly access and refresh cookies.
func SetAuthCookies(ctx *fiber.Ctx, cs CookieSettings, access string, accessTTL time.Duration, refresh string, refreshExpires time.Time) {
	ctx.Cookie(&fiber.Cookie{
		Name:     AccessCookie,
		Value:    access,
		Path:     "/",
		Expires:  time.Now().Add(accessTTL),
		HTTPOnly: true,
		Secure:   cs.Secure,
		SameSite: cs.SameSite,
	})
	ctx.Cookie(&fiber.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/",
		Expires:  refreshExpires,
		HTTPOnly: true,
		Secure:   cs.Secure,
		SameSite: cs.SameSite,
	})
}

func ClearAuthCookies(ctx *fiber.Ctx, cs CookieSettings) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ctx.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			HTTPOnly: true,
			Secure:   cs.Secure,
			SameSite: cs.SameSite,
		})
	}
}
