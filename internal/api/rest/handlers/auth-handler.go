package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/studyflow/auth_service/internal/api/rest/middleware"
	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/dto"
	"github.com/studyflow/auth_service/internal/helper"
	"github.com/studyflow/auth_service/internal/helper/utils"
	"github.com/studyflow/auth_service/internal/services"
)

var validate = validator.New()

type AuthHandler struct {
	svc     services.AuthService
	cookies helper.CookieSettings
	csrf    middleware.CsrfConfig

	rateLimitMax    int
	rateLimitWindow time.Duration
}

func NewAuthHandler(
	svc services.AuthService,
	cookies helper.CookieSettings,
	csrf middleware.CsrfConfig,
	rateLimitMax int,
	rateLimitWindow time.Duration,
) *AuthHandler {
	return &AuthHandler{
		svc:             svc,
		cookies:         cookies,
		csrf:            csrf,
		rateLimitMax:    rateLimitMax,
		rateLimitWindow: rateLimitWindow,
	}
}

func (h *AuthHandler) SetupRoutes(app *fiber.App) {
	app.Get("/csrf", h.Csrf)

	auth := app.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
	auth.Post("/verify", h.VerifyEmail)
	auth.Post("/verify/resend",
		middleware.SensitiveLimiter(h.rateLimitMax, h.rateLimitWindow), h.ResendVerification)
	auth.Post("/password/forgot",
		middleware.SensitiveLimiter(h.rateLimitMax, h.rateLimitWindow), h.ForgotPassword)
	auth.Post("/password/reset", h.ResetPassword)

	auth.Get("/me", middleware.RequireAuth(), h.Me)
	auth.Delete("/account", middleware.RequireAuth(), h.DeleteAccount)
}

func (h *AuthHandler) Register(ctx *fiber.Ctx) error {
	var requestBody dto.RegisterRequest

	if err := ctx.BodyParser(&requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}
	if err := validate.Struct(requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}

	user, err := h.svc.Register(requestBody)
	if err != nil {
		return h.serviceError(ctx, err)
	}

	return utils.ResponseSuccess(ctx, fiber.StatusCreated, fiber.Map{
		"user": dto.ToUserResponse(user),
	})
}

func (h *AuthHandler) Login(ctx *fiber.Ctx) error {
	var requestBody dto.LoginRequest

	if err := ctx.BodyParser(&requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}
	if err := validate.Struct(requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}

	user, tokens, err := h.svc.Login(requestBody)
	if err != nil {
		return h.serviceError(ctx, err)
	}

	helper.SetAuthCookies(ctx, h.cookies,
		tokens.Access, tokens.AccessTTL, tokens.Refresh, tokens.RefreshExpiresAt)

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{
		"user": dto.ToUserResponse(user),
	})
}

func (h *AuthHandler) Refresh(ctx *fiber.Ctx) error {
	refreshToken := ctx.Cookies(helper.RefreshCookie)
	if refreshToken == "" {
		return utils.ResponseError(ctx, fiber.StatusUnauthorized, "NO_REFRESH")
	}

	user, tokens, err := h.svc.Refresh(refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRefresh) {
			// force a re-login; the old cookies are useless now
			helper.ClearAuthCookies(ctx, h.cookies)
			return utils.ResponseError(ctx, fiber.StatusUnauthorized, "INVALID_REFRESH")
		}
		return h.serviceError(ctx, err)
	}

	helper.SetAuthCookies(ctx, h.cookies,
		tokens.Access, tokens.AccessTTL, tokens.Refresh, tokens.RefreshExpiresAt)

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{
		"user": dto.ToUserResponse(user),
	})
}

// Logout always succeeds; revocation of an unknown token is a no-op.
func (h *AuthHandler) Logout(ctx *fiber.Ctx) error {
	if err := h.svc.Logout(ctx.Cookies(helper.RefreshCookie)); err != nil {
		log.Printf("logout error: %v", err)
	}

	helper.ClearAuthCookies(ctx, h.cookies)
	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"ok": true})
}

func (h *AuthHandler) VerifyEmail(ctx *fiber.Ctx) error {
	var requestBody dto.VerifyEmailRequest

	if err := ctx.BodyParser(&requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}
	if err := validate.Struct(requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}

	if err := h.svc.VerifyEmail(requestBody.Token); err != nil {
		return h.serviceError(ctx, err)
	}

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"ok": true})
}

func (h *AuthHandler) ResendVerification(ctx *fiber.Ctx) error {
	var requestBody dto.ResendVerificationRequest

	if err := ctx.BodyParser(&requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}
	if err := validate.Struct(requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}

	if err := h.svc.ResendVerification(requestBody.Email); err != nil {
		return h.serviceError(ctx, err)
	}

	// identical response whether or not the account exists
	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"ok": true})
}

func (h *AuthHandler) ForgotPassword(ctx *fiber.Ctx) error {
	var requestBody dto.ForgotPasswordRequest

	if err := ctx.BodyParser(&requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}
	if err := validate.Struct(requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}

	if err := h.svc.ForgotPassword(requestBody.Email); err != nil {
		return h.serviceError(ctx, err)
	}

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"ok": true})
}

func (h *AuthHandler) ResetPassword(ctx *fiber.Ctx) error {
	var requestBody dto.ResetPasswordRequest

	if err := ctx.BodyParser(&requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}
	if err := validate.Struct(requestBody); err != nil {
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	}

	if err := h.svc.ResetPassword(requestBody); err != nil {
		return h.serviceError(ctx, err)
	}

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"ok": true})
}

func (h *AuthHandler) Me(ctx *fiber.Ctx) error {
	user, err := h.svc.GetUser(middleware.CurrentUserID(ctx))
	if err != nil {
		return h.serviceError(ctx, err)
	}

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{
		"user": dto.ToUserResponse(user),
	})
}

func (h *AuthHandler) DeleteAccount(ctx *fiber.Ctx) error {
	if err := h.svc.DeleteAccount(middleware.CurrentUserID(ctx)); err != nil {
		return h.serviceError(ctx, err)
	}

	helper.ClearAuthCookies(ctx, h.cookies)
	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"ok": true})
}

func (h *AuthHandler) Csrf(ctx *fiber.Ctx) error {
	token, err := middleware.IssueCsrfToken(ctx, h.csrf)
	if err != nil {
		return h.serviceError(ctx, err)
	}

	return utils.ResponseSuccess(ctx, fiber.StatusOK, fiber.Map{"csrf": token})
}

// serviceError maps service sentinels onto the stable HTTP error codes.
// Anything unexpected is logged and answered with a generic 500.
func (h *AuthHandler) serviceError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_INPUT")
	case errors.Is(err, domain.ErrEmailTaken):
		return utils.ResponseError(ctx, fiber.StatusConflict, "EMAIL_TAKEN")
	case errors.Is(err, domain.ErrInvalidCredentials):
		return utils.ResponseError(ctx, fiber.StatusUnauthorized, "INVALID_CREDENTIALS")
	case errors.Is(err, domain.ErrEmailNotVerified):
		return utils.ResponseError(ctx, fiber.StatusForbidden, "EMAIL_NOT_VERIFIED")
	case errors.Is(err, domain.ErrInvalidToken):
		return utils.ResponseError(ctx, fiber.StatusBadRequest, "INVALID_TOKEN")
	case errors.Is(err, domain.ErrInvalidRefresh):
		return utils.ResponseError(ctx, fiber.StatusUnauthorized, "INVALID_REFRESH")
	case errors.Is(err, domain.ErrNotFound):
		return utils.ResponseError(ctx, fiber.StatusNotFound, "NOT_FOUND")
	default:
		log.Printf("unexpected error: %v", err)
		return utils.ResponseError(ctx, fiber.StatusInternalServerError, "INTERNAL")
	}
}
