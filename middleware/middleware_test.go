package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap/zaptest"

	"salon-referral-system/middleware"
)

func adminApp(t *testing.T, key string, production bool) *fiber.App {
	app := fiber.New()
	app.Get("/admin", middleware.AdminAuthMiddleware(key, production, zaptest.NewLogger(t)), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		production bool
		header     string
		value      string
		want       int
	}{
		{"no key outside production is open", "", false, "", "", http.StatusOK},
		{"no key in production is locked", "", true, "x-admin-key", "anything", http.StatusUnauthorized},
		{"missing key", "secret", true, "", "", http.StatusUnauthorized},
		{"wrong key", "secret", true, "x-admin-key", "guess", http.StatusUnauthorized},
		{"header key", "secret", true, "x-admin-key", "secret", http.StatusOK},
		{"bearer key", "secret", true, "Authorization", "Bearer secret", http.StatusOK},
		{"basic auth is not accepted", "secret", true, "Authorization", "Basic secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if got := status(t, adminApp(t, tt.key, tt.production), req); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPassTokenMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/pass", middleware.PassTokenMiddleware(), func(c *fiber.Ctx) error {
		return c.SendString(middleware.PassToken(c))
	})

	for _, auth := range []string{"", "ApplePass ", "Bearer tok", "applepass tok"} {
		req := httptest.NewRequest(http.MethodGet, "/pass", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		if got := status(t, app, req); got != http.StatusUnauthorized {
			t.Fatalf("%q: got %d, want 401", auth, got)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/pass", nil)
	req.Header.Set("Authorization", "ApplePass tok-123")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if resp.StatusCode != http.StatusOK || string(buf[:n]) != "tok-123" {
		t.Fatalf("got %d %q", resp.StatusCode, buf[:n])
	}
}
