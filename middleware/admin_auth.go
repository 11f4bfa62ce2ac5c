// middleware/admin_auth.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AdminAuthMiddleware accepts the admin key in x-admin-key or as a Bearer
// token. With no key configured, requests pass outside production and are
// rejected in production.
func AdminAuthMiddleware(apiKey string, production bool, log *zap.Logger) fiber.Handler {
	if apiKey == "" {
		if production {
			log.Error("[ADMIN_AUTH] ADMIN_API_KEY is not set, admin API is locked")
		} else {
			log.Warn("[ADMIN_AUTH] ADMIN_API_KEY is not set, admin API is open (non-production)")
		}
	}

	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			if production {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "admin API key not configured"})
			}
			return c.Next()
		}

		presented := c.Get("x-admin-key")
		if presented == "" {
			auth := c.Get(fiber.HeaderAuthorization)
			if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
				presented = strings.TrimSpace(token)
			}
		}
		if presented == "" {
			log.Info("[ADMIN_AUTH] missing admin key", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			log.Warn("[ADMIN_AUTH] invalid admin key", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		return c.Next()
	}
}
