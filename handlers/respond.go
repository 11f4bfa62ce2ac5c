// handlers/respond.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"salon-referral-system/services"
)

// ErrorResponder maps service errors onto the API's error bodies.
type ErrorResponder struct {
	Production bool
	Log        *zap.Logger
}

// respondError writes 401/400/404 with {error}, and 500 with a generic body.
// details carries the internal error only outside production.
func (r ErrorResponder) respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}

	r.Log.Error("[API] request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	body := fiber.Map{"error": "internal server error"}
	if !r.Production {
		body["details"] = err.Error()
	}
	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

func listResponse[T any](c *fiber.Ctx, page services.Page, rows []T, total int64) error {
	page = page.Normalize()
	if rows == nil {
		rows = []T{}
	}
	return c.JSON(fiber.Map{
		"pagination": fiber.Map{
			"page":  page.Page,
			"limit": page.Limit,
			"total": total,
		},
		"data": rows,
	})
}

func pageFrom(c *fiber.Ctx) services.Page {
	return services.Page{
		Page:  c.QueryInt("page", 1),
		Limit: c.QueryInt("limit", services.DefaultPageLimit),
	}.Normalize()
}
