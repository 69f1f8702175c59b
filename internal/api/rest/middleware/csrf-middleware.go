package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/studyflow/auth_service/internal/helper/utils"
)

const csrfTokenBytes = 24

// CsrfConfig parameterizes the double-submit guard so it can be reused
// and tested independent of any one cookie/header naming scheme.
type CsrfConfig struct {
	CookieName string
	HeaderName string
	Secure     bool
	SameSite   string
}

func DefaultCsrfConfig(secure bool, sameSite string) CsrfConfig {
	return CsrfConfig{
		CookieName: "csrf",
		HeaderName: "x-csrf-token",
		Secure:     secure,
		SameSite:   sameSite,
	}
}

// CsrfProtect rejects unsafe-method requests whose header token does not
// exactly equal the cookie token. Safe methods pass unconditionally.
// There is no server-side state; validity is pure equality.
func CsrfProtect(cfg CsrfConfig) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		switch ctx.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		default:
			return ctx.Next()
		}

		header := ctx.Get(cfg.HeaderName)
		cookie := ctx.Cookies(cfg.CookieName)
		if header == "" || cookie == "" ||
			subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
			return utils.ResponseError(ctx, fiber.StatusForbidden, "CSRF_MISMATCH")
		}

		return ctx.Next()
	}
}

// IssueCsrfToken sets a fresh token as a readable cookie and returns it.
// The cookie must stay readable by client script for double-submit.
func IssueCsrfToken(ctx *fiber.Ctx, cfg CsrfConfig) (string, error) {
	token, err := utils.RandomToken(csrfTokenBytes)
	if err != nil {
		return "", err
	}

	ctx.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		HTTPOnly: false,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	})

	return token, nil
}
