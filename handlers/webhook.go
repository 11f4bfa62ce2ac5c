// handlers/webhook.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"salon-referral-system/services"
)

func SetupWebhookRoutes(app *fiber.App, webhooks *services.WebhookService) {
	app.Post("/api/webhooks/square", SquareWebhook(webhooks))
}

// SquareWebhook acknowledges every verified delivery with 200, including
// deliveries whose handler failed. Only a bad signature gets 401.
func SquareWebhook(webhooks *services.WebhookService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// fasthttp reuses the request buffer once the handler returns.
		body := append([]byte(nil), c.Body()...)

		out, err := webhooks.Handle(c.UserContext(), body, c.Get(services.SquareSignatureHeader))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid signature"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"received": true,
			"status":   out.Status,
		})
	}
}
