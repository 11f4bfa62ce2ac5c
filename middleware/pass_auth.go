// middleware/pass_auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PassTokenLocal is the Locals key holding the ApplePass token.
const PassTokenLocal = "pass_token"

// PassTokenMiddleware extracts "ApplePass <token>" for the Wallet web service
// routes. Token validation against the pass happens in the wallet service;
// a missing header is rejected here.
func PassTokenMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(auth, "ApplePass ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.Locals(PassTokenLocal, token)
		return c.Next()
	}
}

// PassToken returns the token stored by PassTokenMiddleware.
func PassToken(c *fiber.Ctx) string {
	token, _ := c.Locals(PassTokenLocal).(string)
	return token
}
