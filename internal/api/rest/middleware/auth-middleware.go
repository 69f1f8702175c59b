package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/helper"
	"github.com/studyflow/auth_service/internal/helper/utils"
)

// Locals keys set by SessionMiddleware.
const (
	LocalUserID = "userID"
	LocalRole   = "role"
	LocalEmail  = "email"
)

// SessionMiddleware attaches the request identity from an access token
// found in the Authorization header or the access cookie; the header
// wins when both are present. It never blocks: verification failures
// leave the request unauthenticated so public routes keep working.
func SessionMiddleware(auth helper.Auth) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := strings.TrimSpace(ctx.Get(fiber.HeaderAuthorization))
		if tokenStr == "" {
			tokenStr = strings.TrimSpace(ctx.Cookies(helper.AccessCookie))
		}

		if tokenStr != "" {
			if claims, err := auth.VerifyAccessToken(tokenStr); err == nil {
				ctx.Locals(LocalUserID, claims.UserID)
				ctx.Locals(LocalRole, claims.Role)
				ctx.Locals(LocalEmail, claims.Email)
			}
		}

		return ctx.Next()
	}
}

// CurrentUserID returns the authenticated user id, or 0.
func CurrentUserID(ctx *fiber.Ctx) uint {
	userID, ok := ctx.Locals(LocalUserID).(uint)
	if !ok {
		return 0
	}
	return userID
}

func RequireAuth() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if CurrentUserID(ctx) == 0 {
			return utils.ResponseError(ctx, fiber.StatusUnauthorized, "UNAUTHENTICATED")
		}
		return ctx.Next()
	}
}

// AdminOnly is always composed after RequireAuth.
func AdminOnly() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		role, _ := ctx.Locals(LocalRole).(string)
		if role != domain.RoleAdmin {
			return utils.ResponseError(ctx, fiber.StatusForbidden, "FORBIDDEN")
		}
		return ctx.Next()
	}
}
