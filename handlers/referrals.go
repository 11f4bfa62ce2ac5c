// handlers/referrals.go
package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"salon-referral-system/services"
)

type ReferralHandler struct {
	Clicks    *services.ClickService
	Referrals *services.ReferralService
	ErrorResponder
}

func SetupReferralRoutes(app *fiber.App, h *ReferralHandler) {
	api := app.Group("/api/referrals")
	api.Post("/click", h.TrackClick)
	api.Get("/:code", h.LookupCode)
}

func (h *ReferralHandler) TrackClick(c *fiber.Ctx) error {
	var req services.ClickRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if strings.TrimSpace(req.RefCode) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing referral code"})
	}

	click, err := h.Clicks.Track(c.UserContext(), req, c.IP(), c.Get(fiber.HeaderUserAgent))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"clickId": click.ID,
		"refCode": click.RefCode,
	})
}

// LookupCode lets the landing page greet the visitor with the referrer's name.
func (h *ReferralHandler) LookupCode(c *fiber.Ctx) error {
	referrer, err := h.Referrals.FindReferrer(c.UserContext(), c.Params("code"))
	if errors.Is(err, services.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"valid": false, "error": "Referral code not found"})
	}
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"valid":             true,
		"code":              referrer.Code(),
		"referrerFirstName": services.DisplayName(referrer.GivenName, ""),
	})
}
