package utils

import "github.com/gofiber/fiber/v2"

// ResponseError writes the stable machine-readable error envelope.
func ResponseError(ctx *fiber.Ctx, status int, code string) error {
	return ctx.Status(status).JSON(fiber.Map{
		"error": code,
	})
}

func ResponseSuccess(ctx *fiber.Ctx, status int, data interface{}) error {
	return ctx.Status(status).JSON(data)
}
