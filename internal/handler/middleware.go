package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminAuth requires "Authorization: Bearer <token>" when token is set.
func AdminAuth(token string) fiber.Handler {
	token = strings.TrimSpace(token)
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid admin token")
		}
		return c.Next()
	}
}
