// handlers/admin.go
package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"salon-referral-system/services"
)

type AdminHandler struct {
	Analytics *services.AnalyticsService
	Reconcile *services.ReconcileService
	ErrorResponder
}

// SetupAdminRoutes mounts the dashboard API behind the admin key guard.
func SetupAdminRoutes(app *fiber.App, h *AdminHandler, guard fiber.Handler) {
	admin := app.Group("/api/admin", guard)

	admin.Get("/referrals", h.ListReferrals)
	admin.Get("/referrals/:customerId", h.GetReferral)
	admin.Get("/process-runs", h.ListProcessRuns)
	admin.Get("/registrations", h.ListRegistrations)
	admin.Get("/clicks", h.ListClicks)
	admin.Get("/alerts", h.ListAlerts)
	admin.Patch("/alerts/:id/resolve", h.ResolveAlert)
	admin.Post("/reconcile", h.RunReconcile)
	admin.Get("/stats", h.GetStats)
}

func (h *AdminHandler) ListReferrals(c *fiber.Ctx) error {
	page := pageFrom(c)
	rows, total, err := h.Analytics.Referrers(c.UserContext(), page, c.Query("sort", "recent"))
	if err != nil {
		return h.respondError(c, err)
	}
	return listResponse(c, page, rows, total)
}

func (h *AdminHandler) GetReferral(c *fiber.Ctx) error {
	detail, err := h.Analytics.ReferralDetail(c.UserContext(), c.Params("customerId"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": detail})
}

func (h *AdminHandler) ListProcessRuns(c *fiber.Ctx) error {
	page := pageFrom(c)
	rows, total, err := h.Analytics.ProcessRuns(c.UserContext(), page, services.ProcessRunFilter{
		Status:      c.Query("status"),
		ProcessType: c.Query("processType"),
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return listResponse(c, page, rows, total)
}

func (h *AdminHandler) ListRegistrations(c *fiber.Ctx) error {
	page := pageFrom(c)
	rows, total, err := h.Analytics.Registrations(c.UserContext(), page)
	if err != nil {
		return h.respondError(c, err)
	}
	return listResponse(c, page, rows, total)
}

func (h *AdminHandler) ListClicks(c *fiber.Ctx) error {
	page := pageFrom(c)
	rows, total, err := h.Analytics.Clicks(c.UserContext(), page, c.Query("refCode"))
	if err != nil {
		return h.respondError(c, err)
	}
	return listResponse(c, page, rows, total)
}

func (h *AdminHandler) ListAlerts(c *fiber.Ctx) error {
	var resolved *bool
	if raw := c.Query("resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "resolved must be true or false"})
		}
		resolved = &v
	}
	page := pageFrom(c)
	rows, total, err := h.Analytics.Alerts(c.UserContext(), page, resolved)
	if err != nil {
		return h.respondError(c, err)
	}
	return listResponse(c, page, rows, total)
}

func (h *AdminHandler) ResolveAlert(c *fiber.Ctx) error {
	alert, err := h.Reconcile.ResolveAlert(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": alert})
}

func (h *AdminHandler) RunReconcile(c *fiber.Ctx) error {
	report, err := h.Reconcile.Run(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": report})
}

func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.Analytics.Stats(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"data": stats})
}
