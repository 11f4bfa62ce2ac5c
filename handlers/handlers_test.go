package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"salon-referral-system/handlers"
	"salon-referral-system/middleware"
	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/testutil"
)

const adminKey = "admin-secret"

func newApp(t *testing.T, env *testutil.Env) *fiber.App {
	t.Helper()
	app := fiber.New()
	errs := handlers.ErrorResponder{Production: false, Log: env.Log}
	handlers.SetupWebhookRoutes(app, env.Webhooks)
	handlers.SetupReferralRoutes(app, &handlers.ReferralHandler{Clicks: env.Clicks, Referrals: env.Referrals, ErrorResponder: errs})
	handlers.SetupWalletRoutes(app, &handlers.WalletHandler{Wallet: env.Wallet, ErrorResponder: errs})
	handlers.SetupAdminRoutes(app, &handlers.AdminHandler{Analytics: env.Analytics, Reconcile: env.Reconcile, ErrorResponder: errs},
		middleware.AdminAuthMiddleware(adminKey, false, env.Log))
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return out
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/square", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(services.SquareSignatureHeader, signature)
	}
	return req
}

func TestWebhookEndpoint(t *testing.T) {
	env := testutil.NewEnv(t)
	app := newApp(t, env)

	body := testutil.CustomerCreated(testutil.NewEventID(), "C1", "Ana", "")
	resp, raw := do(t, app, webhookRequest(body, "invalid"))
	if resp.StatusCode != http.StatusUnauthorized || decode(t, raw)["error"] != "Invalid signature" {
		t.Fatalf("bad signature: %d %s", resp.StatusCode, raw)
	}
	resp, _ = do(t, app, webhookRequest(body, ""))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing signature should be 401, got %d", resp.StatusCode)
	}

	resp, raw = do(t, app, webhookRequest(body, env.Verifier.Sign(body)))
	if resp.StatusCode != http.StatusOK || decode(t, raw)["status"] != string(models.ProcessStatusSucceeded) {
		t.Fatalf("valid delivery: %d %s", resp.StatusCode, raw)
	}

	unknown := testutil.EventBody(testutil.NewEventID(), "invoice.created", "invoice", "I1", map[string]any{})
	resp, raw = do(t, app, webhookRequest(unknown, env.Verifier.Sign(unknown)))
	if resp.StatusCode != http.StatusOK || decode(t, raw)["status"] != string(models.ProcessStatusIgnored) {
		t.Fatalf("unknown type should be acknowledged: %d %s", resp.StatusCode, raw)
	}

	// A failing handler is still acknowledged.
	malformed := []byte(`{"type":"payment.updated","event_id":"bad-1","data":{"object":"x"}}`)
	resp, raw = do(t, app, webhookRequest(malformed, env.Verifier.Sign(malformed)))
	if resp.StatusCode != http.StatusOK || decode(t, raw)["status"] != string(models.ProcessStatusFailed) {
		t.Fatalf("handler failure should be 200/failed: %d %s", resp.StatusCode, raw)
	}
}

func TestReferralEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)
	app := newApp(t, env)
	code := "ANA23456"
	if err := env.DB.Create(&models.Customer{ID: "C1", GivenName: "ana", PersonalCode: &code}).Error; err != nil {
		t.Fatal(err)
	}

	post := func(body string) (*http.Response, []byte) {
		req := httptest.NewRequest(http.MethodPost, "/api/referrals/click", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		return do(t, app, req)
	}

	resp, raw := post(`{"refCode":"  "}`)
	if resp.StatusCode != http.StatusBadRequest || decode(t, raw)["error"] != "Missing referral code" {
		t.Fatalf("blank code: %d %s", resp.StatusCode, raw)
	}
	resp, _ = post(`{"refCode":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("broken body should be 400, got %d", resp.StatusCode)
	}
	resp, raw = post(`{"refCode":"ana23456","utmSource":"ig"}`)
	out := decode(t, raw)
	if resp.StatusCode != http.StatusOK || out["success"] != true || out["refCode"] != code || out["clickId"] == "" {
		t.Fatalf("click: %d %s", resp.StatusCode, raw)
	}

	resp, raw = do(t, app, httptest.NewRequest(http.MethodGet, "/api/referrals/ana23456", nil))
	out = decode(t, raw)
	if resp.StatusCode != http.StatusOK || out["valid"] != true || out["referrerFirstName"] != "Ana" {
		t.Fatalf("lookup: %d %s", resp.StatusCode, raw)
	}
	resp, raw = do(t, app, httptest.NewRequest(http.MethodGet, "/api/referrals/NOPE", nil))
	if resp.StatusCode != http.StatusNotFound || decode(t, raw)["valid"] != false {
		t.Fatalf("unknown lookup: %d %s", resp.StatusCode, raw)
	}
}

func TestWalletEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)
	app := newApp(t, env)
	env.Square.GiftCards["gc1"] = &services.SquareGiftCard{ID: "gc1", GAN: "7783", BalanceMoney: &services.Money{Amount: 900, Currency: "USD"}}
	if err := env.DB.Create(&models.Customer{ID: "W1", GivenName: "Wanda", GiftCardID: "gc1", GiftCardGAN: "7783"}).Error; err != nil {
		t.Fatal(err)
	}

	resp, raw := do(t, app, httptest.NewRequest(http.MethodGet, "/api/wallet/passes/7783", nil))
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != services.PassContentType || len(raw) == 0 {
		t.Fatalf("download: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if cd := resp.Header.Get("Content-Disposition"); cd == "" {
		t.Fatal("download should be an attachment")
	}
	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/api/wallet/passes/0000", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown GAN should be 404, got %d", resp.StatusCode)
	}

	var pass models.WalletPass
	if err := env.DB.First(&pass).Error; err != nil {
		t.Fatal(err)
	}
	regPath := "/v1/devices/dev1/registrations/" + testutil.PassTypeIdentifier + "/" + pass.SerialNumber
	register := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, regPath, bytes.NewBufferString(`{"pushToken":"push1"}`))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "ApplePass "+token)
		}
		resp, _ := do(t, app, req)
		return resp.StatusCode
	}
	if got := register(""); got != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", got)
	}
	if got := register("wrong"); got != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", got)
	}
	if got := register(pass.AuthToken); got != http.StatusCreated {
		t.Fatalf("first registration: %d", got)
	}
	if got := register(pass.AuthToken); got != http.StatusOK {
		t.Fatalf("repeat registration: %d", got)
	}

	listPath := "/v1/devices/dev1/registrations/" + testutil.PassTypeIdentifier
	resp, raw = do(t, app, httptest.NewRequest(http.MethodGet, listPath, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("serials: %d", resp.StatusCode)
	}
	if serials := decode(t, raw)["serialNumbers"].([]any); len(serials) != 1 || serials[0] != pass.SerialNumber {
		t.Fatalf("unexpected serials %s", raw)
	}
	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/v1/devices/other/registrations/"+testutil.PassTypeIdentifier, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("device without passes should get 204, got %d", resp.StatusCode)
	}

	passReq := httptest.NewRequest(http.MethodGet, "/v1/passes/"+testutil.PassTypeIdentifier+"/"+pass.SerialNumber, nil)
	passReq.Header.Set("Authorization", "ApplePass "+pass.AuthToken)
	resp, _ = do(t, app, passReq)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Last-Modified") == "" {
		t.Fatalf("latest pass: %d", resp.StatusCode)
	}
	passReq = httptest.NewRequest(http.MethodGet, "/v1/passes/"+testutil.PassTypeIdentifier+"/"+pass.SerialNumber, nil)
	passReq.Header.Set("Authorization", "ApplePass "+pass.AuthToken)
	passReq.Header.Set("If-Modified-Since", resp.Header.Get("Last-Modified"))
	resp, _ = do(t, app, passReq)
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("unchanged pass should be 304, got %d", resp.StatusCode)
	}

	logReq := httptest.NewRequest(http.MethodPost, "/v1/log", bytes.NewBufferString(`{"logs":["hello"]}`))
	logReq.Header.Set("Content-Type", "application/json")
	if resp, _ := do(t, app, logReq); resp.StatusCode != http.StatusOK {
		t.Fatalf("log: %d", resp.StatusCode)
	}
	if resp, _ := do(t, app, httptest.NewRequest(http.MethodPost, "/v1/log", bytes.NewBufferString("garbage"))); resp.StatusCode != http.StatusOK {
		t.Fatalf("log must always be 200, got %d", resp.StatusCode)
	}

	delReq := httptest.NewRequest(http.MethodDelete, regPath, nil)
	delReq.Header.Set("Authorization", "ApplePass "+pass.AuthToken)
	if resp, _ := do(t, app, delReq); resp.StatusCode != http.StatusOK {
		t.Fatalf("unregister: %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)
	app := newApp(t, env)
	if err := env.DB.Create(&models.Customer{ID: "broken", GotSignupBonus: true}).Error; err != nil {
		t.Fatal(err)
	}

	resp, _ := do(t, app, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401, got %d", resp.StatusCode)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("x-admin-key", "nope")
	if resp, _ := do(t, app, req); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key should be 401, got %d", resp.StatusCode)
	}

	admin := func(method, path string) (*http.Response, map[string]any) {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+adminKey)
		resp, raw := do(t, app, req)
		return resp, decode(t, raw)
	}

	resp, out := admin(http.MethodPost, "/api/admin/reconcile")
	if resp.StatusCode != http.StatusOK || out["data"].(map[string]any)["raised"].(float64) != 2 {
		t.Fatalf("reconcile: %d %v", resp.StatusCode, out)
	}

	resp, out = admin(http.MethodGet, "/api/admin/alerts?resolved=false&limit=1000")
	pagination := out["pagination"].(map[string]any)
	if resp.StatusCode != http.StatusOK || pagination["limit"].(float64) != services.MaxPageLimit || pagination["total"].(float64) != 2 {
		t.Fatalf("alerts: %d %v", resp.StatusCode, out)
	}
	alertID := out["data"].([]any)[0].(map[string]any)["id"].(string)

	if resp, _ := admin(http.MethodGet, "/api/admin/alerts?resolved=maybe"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid resolved filter should be 400, got %d", resp.StatusCode)
	}
	resp, out = admin(http.MethodPatch, "/api/admin/alerts/"+alertID+"/resolve")
	if resp.StatusCode != http.StatusOK || out["data"].(map[string]any)["resolved"] != true {
		t.Fatalf("resolve: %d %v", resp.StatusCode, out)
	}
	if resp, _ := admin(http.MethodPatch, "/api/admin/alerts/missing/resolve"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing alert should be 404, got %d", resp.StatusCode)
	}

	resp, out = admin(http.MethodGet, "/api/admin/process-runs?status=succeeded&page=0")
	if resp.StatusCode != http.StatusOK || out["pagination"].(map[string]any)["page"].(float64) != 1 {
		t.Fatalf("process runs: %d %v", resp.StatusCode, out)
	}
	if resp, _ := admin(http.MethodGet, "/api/admin/referrals/nobody"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown referral detail should be 404, got %d", resp.StatusCode)
	}
	for _, path := range []string{"/api/admin/referrals?sort=rewards", "/api/admin/registrations", "/api/admin/clicks?refCode=abc", "/api/admin/stats"} {
		if resp, _ := admin(http.MethodGet, path); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, resp.StatusCode)
		}
	}
}
