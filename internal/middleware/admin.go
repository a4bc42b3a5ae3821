package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/rbelkhiri/signalement-backend/internal/config"
	"github.com/rbelkhiri/signalement-backend/internal/dto"
)

// AdminRequired guards the operational surface (queue drains, reconciliation
// triggers, block/unblock) behind a static token.
func AdminRequired(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Admin-Token")
		if cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Forbidden: admin access required",
			})
		}
		return c.Next()
	}
}
