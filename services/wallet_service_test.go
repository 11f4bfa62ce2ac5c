package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/testutil"
)

const walletGAN = "7783320000000099"

func seedGiftCardCustomer(t *testing.T, env *testutil.Env) {
	t.Helper()
	env.Square.GiftCards["gc1"] = &services.SquareGiftCard{
		ID: "gc1", GAN: walletGAN, State: "ACTIVE",
		BalanceMoney: &services.Money{Amount: 2500, Currency: "USD"},
	}
	code := "WANDA234"
	err := env.DB.Create(&models.Customer{
		ID: "W1", GivenName: "wanda", FamilyName: "tester", Email: "w@example.test",
		PersonalCode: &code, ReferralURL: "https://salon.example.test/ref/" + code,
		GiftCardID: "gc1", GiftCardGAN: walletGAN,
	}).Error
	if err != nil {
		t.Fatal(err)
	}
}

func TestPassForGANCreatesAndArchivesPass(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	ctx := context.Background()

	pass, body, filename, err := env.Wallet.PassForGAN(ctx, walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	if filename != "wanda-tester-gift-card.pkpass" {
		t.Fatalf("unexpected filename %q", filename)
	}
	if pass.BalanceCents != 2500 || pass.Currency != "USD" || pass.CustomerID != "W1" {
		t.Fatalf("unexpected pass: %+v", pass)
	}
	if len(body) == 0 {
		t.Fatal("empty pass body")
	}
	if _, ok := env.Store.Objects["passes/"+pass.SerialNumber+".pkpass"]; !ok {
		t.Fatal("pass should be archived")
	}

	again, _, _, err := env.Wallet.PassForGAN(ctx, walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	if again.SerialNumber != pass.SerialNumber || again.StorageURL == "" {
		t.Fatalf("second download should reuse the pass row: %+v", again)
	}

	if _, _, _, err := env.Wallet.PassForGAN(ctx, "0000"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown GAN should be not found, got %v", err)
	}
}

func TestDeviceRegistrationLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	ctx := context.Background()

	pass, _, _, err := env.Wallet.PassForGAN(ctx, walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	passType, serial := testutil.PassTypeIdentifier, pass.SerialNumber

	created, err := env.Wallet.RegisterDevice(ctx, "dev1", passType, serial, pass.AuthToken, "push1")
	if err != nil || !created {
		t.Fatalf("first registration: created=%v err=%v", created, err)
	}
	created, err = env.Wallet.RegisterDevice(ctx, "dev1", passType, serial, pass.AuthToken, "push1b")
	if err != nil || created {
		t.Fatalf("repeat registration: created=%v err=%v", created, err)
	}
	var reg models.DeviceRegistration
	env.DB.First(&reg, "device_library_identifier = ?", "dev1")
	if reg.PushToken != "push1b" || reg.CachedBalanceCents != 2500 {
		t.Fatalf("registration not refreshed: %+v", reg)
	}

	if _, err := env.Wallet.RegisterDevice(ctx, "dev1", passType, serial, "wrong", "push1"); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("bad token should be unauthorized, got %v", err)
	}
	if _, err := env.Wallet.RegisterDevice(ctx, "dev1", "pass.other", serial, pass.AuthToken, "push1"); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("foreign pass type should be unauthorized, got %v", err)
	}
	if _, err := env.Wallet.RegisterDevice(ctx, "dev1", passType, "missing", pass.AuthToken, "push1"); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("unknown serial should be unauthorized, got %v", err)
	}

	serials, tag, err := env.Wallet.UpdatedSerials(ctx, "dev1", passType, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(serials) != 1 || serials[0] != serial || tag == "" {
		t.Fatalf("unexpected serials %v tag %q", serials, tag)
	}
	future := time.Now().Add(365 * 24 * time.Hour).UnixMilli()
	serials, _, err = env.Wallet.UpdatedSerials(ctx, "dev1", passType, itoa(future))
	if err != nil || len(serials) != 0 {
		t.Fatalf("nothing changed since the future: %v %v", serials, err)
	}
	if serials, _, _ := env.Wallet.UpdatedSerials(ctx, "dev-unknown", passType, ""); len(serials) != 0 {
		t.Fatalf("unknown device has no passes: %v", serials)
	}

	if _, body, err := env.Wallet.PassForDevice(ctx, passType, serial, pass.AuthToken); err != nil || len(body) == 0 {
		t.Fatalf("pass for device: %v", err)
	}

	if err := env.Wallet.UnregisterDevice(ctx, "dev1", passType, serial, pass.AuthToken); err != nil {
		t.Fatal(err)
	}
	var count int64
	env.DB.Model(&models.DeviceRegistration{}).Count(&count)
	if count != 0 {
		t.Fatalf("registration should be removed, %d left", count)
	}
}

func TestApplyBalancePushesAndDropsDeadDevices(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	ctx := context.Background()

	pass, _, _, err := env.Wallet.PassForGAN(ctx, walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	for device, token := range map[string]string{"alive": "tok-alive", "dead": "tok-dead"} {
		if _, err := env.Wallet.RegisterDevice(ctx, device, testutil.PassTypeIdentifier, pass.SerialNumber, pass.AuthToken, token); err != nil {
			t.Fatal(err)
		}
	}
	env.Pusher.Invalid["tok-dead"] = true

	if err := env.Wallet.ApplyBalance(ctx, "gc1", walletGAN, &services.Money{Amount: 1500, Currency: "USD"}); err != nil {
		t.Fatal(err)
	}
	if env.Pusher.Count() != 1 || env.Pusher.Pushed[0] != "tok-alive" {
		t.Fatalf("unexpected pushes %v", env.Pusher.Pushed)
	}

	var regs []models.DeviceRegistration
	env.DB.Find(&regs)
	if len(regs) != 1 || regs[0].DeviceLibraryIdentifier != "alive" || regs[0].CachedBalanceCents != 1500 {
		t.Fatalf("dead registration should be dropped and balance cached: %+v", regs)
	}
	var updated models.WalletPass
	env.DB.First(&updated, "serial_number = ?", pass.SerialNumber)
	if updated.BalanceCents != 1500 || updated.LastPushedAt == nil {
		t.Fatalf("pass not updated: %+v", updated)
	}

	// Same balance again is a no-op.
	if err := env.Wallet.ApplyBalance(ctx, "gc1", "", &services.Money{Amount: 1500, Currency: "USD"}); err != nil {
		t.Fatal(err)
	}
	if env.Pusher.Count() != 1 {
		t.Fatal("unchanged balance must not push")
	}
}

func TestSyncBalancesPicksUpSquareChanges(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	ctx := context.Background()

	pass, _, _, err := env.Wallet.PassForGAN(ctx, walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Wallet.RegisterDevice(ctx, "dev1", testutil.PassTypeIdentifier, pass.SerialNumber, pass.AuthToken, "push1"); err != nil {
		t.Fatal(err)
	}

	changed, err := env.Wallet.SyncBalances(ctx)
	if err != nil || changed != 0 {
		t.Fatalf("nothing to sync yet: changed=%d err=%v", changed, err)
	}

	env.Square.GiftCards["gc1"].BalanceMoney.Amount = 4200
	changed, err = env.Wallet.SyncBalances(ctx)
	if err != nil || changed != 1 {
		t.Fatalf("expected one change: changed=%d err=%v", changed, err)
	}
	if env.Pusher.Count() != 1 {
		t.Fatalf("expected a push, got %d", env.Pusher.Count())
	}
}

func TestPassBalanceFallsBackToRewardsWhenSquareDown(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	env.Square.SetFailure("RetrieveGiftCard", services.ErrGatewayUnavailable)
	for i, typ := range []models.RewardType{models.RewardTypeFriendSignupBonus, models.RewardTypeReferrerReward} {
		err := env.DB.Create(&models.GiftCardReward{
			CustomerID: "W1", RewardType: typ, ReferredCustomerID: itoa(int64(i)),
			AmountCents: 1000, Currency: "USD", GiftCardID: "gc1",
		}).Error
		if err != nil {
			t.Fatal(err)
		}
	}

	pass, _, _, err := env.Wallet.PassForGAN(context.Background(), walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	if pass.BalanceCents != 2000 {
		t.Fatalf("expected reward total 2000, got %d", pass.BalanceCents)
	}
}

func TestUpdatedSerialsTagAdvancesPastSubMillisecondUpdates(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	ctx := context.Background()

	pass, _, _, err := env.Wallet.PassForGAN(ctx, walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	passType := testutil.PassTypeIdentifier
	if _, err := env.Wallet.RegisterDevice(ctx, "dev1", passType, pass.SerialNumber, pass.AuthToken, "push1"); err != nil {
		t.Fatal(err)
	}
	setUpdatedAt := func(at time.Time) {
		t.Helper()
		err := env.DB.Model(&models.WalletPass{}).Where("serial_number = ?", pass.SerialNumber).
			UpdateColumn("updated_at", at).Error
		if err != nil {
			t.Fatal(err)
		}
	}
	changed := time.Date(2026, 10, 19, 12, 0, 0, 500600000, time.UTC)
	setUpdatedAt(changed)

	serials, tag, err := env.Wallet.UpdatedSerials(ctx, "dev1", passType, "")
	if err != nil || len(serials) != 1 {
		t.Fatalf("first call: %v %v", serials, err)
	}
	if tag != "2026-10-19T12:00:00.5006Z" {
		t.Fatalf("tag should keep sub-millisecond precision, got %q", tag)
	}

	serials, _, err = env.Wallet.UpdatedSerials(ctx, "dev1", passType, tag)
	if err != nil || len(serials) != 0 {
		t.Fatalf("nothing changed since the returned tag: %v %v", serials, err)
	}

	setUpdatedAt(changed.Add(200 * time.Microsecond))
	serials, next, err := env.Wallet.UpdatedSerials(ctx, "dev1", passType, tag)
	if err != nil || len(serials) != 1 || next == tag {
		t.Fatalf("later change in the same millisecond should be listed: %v %q %v", serials, next, err)
	}
}

func TestPassBalanceLookupFailureIsLogged(t *testing.T) {
	env := testutil.NewEnv(t)
	seedGiftCardCustomer(t, env)
	core, logs := observer.New(zap.WarnLevel)
	env.Wallet.Log = zap.New(core)

	env.Square.SetFailure("RetrieveGiftCard", services.ErrGatewayUnavailable)
	if err := env.DB.Migrator().DropTable(&models.GiftCardReward{}); err != nil {
		t.Fatal(err)
	}

	pass, _, _, err := env.Wallet.PassForGAN(context.Background(), walletGAN)
	if err != nil {
		t.Fatal(err)
	}
	if pass.BalanceCents != 0 {
		t.Fatalf("unknown balance should stay empty, got %d", pass.BalanceCents)
	}
	if logs.FilterMessage("[WALLET] reward total lookup failed").Len() != 1 {
		t.Fatalf("expected the failed reward total to be logged, got %v", logs.All())
	}
}
