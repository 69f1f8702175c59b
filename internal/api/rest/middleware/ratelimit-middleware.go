package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/studyflow/auth_service/internal/helper/utils"
)

// SensitiveLimiter caps enumeration-prone endpoints (resend verification,
// forgot password) per caller IP over a fixed window.
func SensitiveLimiter(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		LimitReached: func(ctx *fiber.Ctx) error {
			return utils.ResponseError(ctx, fiber.StatusTooManyRequests, "RATE_LIMITED")
		},
	})
}
