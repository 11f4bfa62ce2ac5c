// handlers/wallet.go
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"salon-referral-system/middleware"
	"salon-referral-system/services"
)

type WalletHandler struct {
	Wallet *services.WalletService
	ErrorResponder
}

// SetupWalletRoutes mounts the Apple Wallet web service at /v1 and the public
// pass download under /api/wallet.
func SetupWalletRoutes(app *fiber.App, h *WalletHandler) {
	v1 := app.Group("/v1")
	v1.Get("/devices/:device/registrations/:passType", h.UpdatedSerials)
	v1.Post("/log", h.DeviceLog)

	passAuth := middleware.PassTokenMiddleware()
	v1.Post("/devices/:device/registrations/:passType/:serial", passAuth, h.Register)
	v1.Delete("/devices/:device/registrations/:passType/:serial", passAuth, h.Unregister)
	v1.Get("/passes/:passType/:serial", passAuth, h.LatestPass)

	app.Get("/api/wallet/passes/:gan", h.Download)
}

func (h *WalletHandler) Register(c *fiber.Ctx) error {
	var body struct {
		PushToken string `json:"pushToken"`
	}
	if err := c.BodyParser(&body); err != nil || body.PushToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing push token"})
	}

	created, err := h.Wallet.RegisterDevice(c.UserContext(),
		c.Params("device"), c.Params("passType"), c.Params("serial"),
		middleware.PassToken(c), body.PushToken)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return h.respondError(c, err)
	}
	if created {
		return c.SendStatus(fiber.StatusCreated)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *WalletHandler) Unregister(c *fiber.Ctx) error {
	err := h.Wallet.UnregisterDevice(c.UserContext(),
		c.Params("device"), c.Params("passType"), c.Params("serial"), middleware.PassToken(c))
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *WalletHandler) UpdatedSerials(c *fiber.Ctx) error {
	serials, lastUpdated, err := h.Wallet.UpdatedSerials(c.UserContext(),
		c.Params("device"), c.Params("passType"), c.Query("passesUpdatedSince"))
	if err != nil {
		return h.respondError(c, err)
	}
	if len(serials) == 0 {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(fiber.Map{
		"serialNumbers": serials,
		"lastUpdated":   lastUpdated,
	})
}

func (h *WalletHandler) LatestPass(c *fiber.Ctx) error {
	pass, body, err := h.Wallet.PassForDevice(c.UserContext(), c.Params("passType"), c.Params("serial"), middleware.PassToken(c))
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return h.respondError(c, err)
	}

	modified := pass.UpdatedAt.UTC().Truncate(time.Second)
	if since := c.Get(fiber.HeaderIfModifiedSince); since != "" {
		if t, err := http.ParseTime(since); err == nil && !modified.After(t) {
			return c.SendStatus(fiber.StatusNotModified)
		}
	}
	c.Set(fiber.HeaderLastModified, modified.Format(http.TimeFormat))
	c.Set(fiber.HeaderContentType, services.PassContentType)
	return c.Send(body)
}

// DeviceLog always answers 200 so Wallet never retries a log upload.
func (h *WalletHandler) DeviceLog(c *fiber.Ctx) error {
	var body struct {
		Logs []string `json:"logs"`
	}
	if err := c.BodyParser(&body); err == nil {
		h.Wallet.RecordDeviceLogs(body.Logs)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *WalletHandler) Download(c *fiber.Ctx) error {
	_, body, filename, err := h.Wallet.PassForGAN(c.UserContext(), c.Params("gan"))
	if err != nil {
		if errors.Is(err, services.ErrWalletNotConfigured) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Wallet passes are not available"})
		}
		return h.respondError(c, err)
	}
	c.Attachment(filename)
	c.Set(fiber.HeaderContentType, services.PassContentType)
	return c.Send(body)
}
