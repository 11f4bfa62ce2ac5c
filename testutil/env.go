// testutil/env.go
package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"salon-referral-system/config"
	"salon-referral-system/services"
)

const (
	WebhookKey             = "test-signature-key"
	WebhookNotificationURL = "https://salon.example.test/api/webhooks/square"
	PassTypeIdentifier     = "pass.test.salon.giftcard"
	MerchantID             = "MERCHANT1"
)

// Env wires every service against SQLite and in-memory fakes.
type Env struct {
	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Square    *FakeSquare
	Notifier  *FakeNotifier
	Publisher *FakePublisher
	Pusher    *FakePusher
	Store     *MemoryStore

	Verifier  *services.WebhookVerifier
	Rewards   *services.RewardService
	Mirrors   *services.MirrorService
	Referrals *services.ReferralService
	Wallet    *services.WalletService
	Webhooks  *services.WebhookService
	Clicks    *services.ClickService
	Analytics *services.AnalyticsService
	Reconcile *services.ReconcileService
}

// TestConfig is config.Defaults plus webhook and wallet credentials.
func TestConfig(t testing.TB) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Square.WebhookSignatureKey = WebhookKey
	cfg.Square.WebhookNotificationURL = WebhookNotificationURL
	cfg.Referral.BaseURL = "https://salon.example.test"
	cfg.Referral.IPHashSalt = "pepper"
	cfg.Wallet.PassTypeIdentifier = PassTypeIdentifier
	cfg.Wallet.TeamIdentifier = "TEAM123456"
	cfg.Wallet.WebServiceURL = "https://salon.example.test/api/wallet"
	cfg.Wallet.TokenSecret = "wallet-token-secret"
	cfg.Wallet.AssetsDir = t.TempDir()
	cfg.Wallet.CertPEMBase64, cfg.Wallet.KeyPEMBase64, _ = SelfSignedPEM(t, PassTypeIdentifier)
	return cfg
}

func NewEnv(t testing.TB) *Env {
	t.Helper()
	cfg := TestConfig(t)
	e := &Env{
		Config:    cfg,
		DB:        NewDB(t),
		Log:       zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)),
		Square:    NewFakeSquare(),
		Notifier:  &FakeNotifier{},
		Publisher: &FakePublisher{},
		Pusher:    &FakePusher{Invalid: map[string]bool{}},
		Store:     &MemoryStore{},
	}

	signer, err := services.LoadPassSigner(cfg.Wallet)
	if err != nil {
		t.Fatalf("load pass signer: %v", err)
	}

	e.Verifier = services.NewWebhookVerifier(cfg.Square.WebhookSignatureKey, cfg.Square.WebhookNotificationURL)
	e.Rewards = services.NewRewardService(e.Square, cfg.Rewards, e.Log)
	e.Mirrors = services.NewMirrorService(e.DB)
	e.Referrals = services.NewReferralService(e.DB, e.Square, e.Rewards, e.Mirrors, e.Notifier, e.Publisher, cfg, e.Log)
	e.Wallet = services.NewWalletService(e.DB,
		services.NewPassBuilder(cfg.Wallet, signer),
		services.NewPassTokens(cfg.Wallet.TokenSecret),
		e.Pusher, e.Store, e.Square, e.Log)
	e.Webhooks = services.NewWebhookService(e.DB, e.Verifier, services.NewDBDeduper(e.DB),
		e.Referrals, e.Mirrors, e.Wallet, e.Publisher, e.Log)
	e.Analytics = services.NewAnalyticsService(e.DB)
	e.Reconcile = services.NewReconcileService(e.DB, e.Publisher, e.Log)

	clicks, err := services.NewClickService(e.DB, cfg.Referral.IPHashSalt, cfg.Referral.ClickNodeID, e.Log)
	if err != nil {
		t.Fatalf("click service: %v", err)
	}
	e.Clicks = clicks
	return e
}

// Signed returns body and its Square signature header value.
func (e *Env) Signed(body []byte) ([]byte, string) {
	return body, e.Verifier.Sign(body)
}
