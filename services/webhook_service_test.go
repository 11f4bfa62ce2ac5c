package services_test

import (
	"context"
	"errors"
	"testing"

	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/testutil"
)

func TestHandleRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	env := testutil.NewEnv(t)
	body := testutil.CustomerCreated(testutil.NewEventID(), "C1", "Ana", "")

	_, err := env.Webhooks.Handle(context.Background(), body, "bm9wZQ==")
	if !errors.Is(err, services.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	_, err = env.Webhooks.Handle(context.Background(), body, "")
	if !errors.Is(err, services.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}

	var customers, runs int64
	env.DB.Model(&models.Customer{}).Count(&customers)
	env.DB.Model(&models.ProcessRun{}).Count(&runs)
	if customers != 0 || runs != 0 {
		t.Fatalf("rejected deliveries must not touch state: customers=%d runs=%d", customers, runs)
	}
}

func TestHandleRecordsEveryOutcome(t *testing.T) {
	env := testutil.NewEnv(t)

	unknown := testutil.EventBody(testutil.NewEventID(), "labor.shift.created", "shift", "S1", map[string]any{})
	if out := deliver(t, env, unknown); out.Status != models.ProcessStatusIgnored {
		t.Fatalf("unknown type should be ignored, got %s", out.Status)
	}

	malformed := []byte(`{"type":"payment.updated","event_id":"bad-1","data":{"object":"x"}}`)
	out := deliver(t, env, malformed)
	if out.Status != models.ProcessStatusFailed || !errors.Is(out.Err, services.ErrMalformedEvent) {
		t.Fatalf("malformed should fail, got %s %v", out.Status, out.Err)
	}

	created := testutil.CustomerCreated(testutil.NewEventID(), "C1", "Ana", "")
	mustSucceed(t, env, created)
	if out := deliver(t, env, created); out.Status != models.ProcessStatusDuplicate {
		t.Fatalf("replay should be duplicate, got %s", out.Status)
	}

	runs, total, err := env.Analytics.ProcessRuns(context.Background(), services.Page{}, services.ProcessRunFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(runs) != 4 {
		t.Fatalf("expected 4 process runs, got %d", total)
	}
	counts := map[models.ProcessStatus]int{}
	for _, r := range runs {
		counts[r.Status]++
	}
	want := map[models.ProcessStatus]int{
		models.ProcessStatusIgnored:   1,
		models.ProcessStatusFailed:    1,
		models.ProcessStatusSucceeded: 1,
		models.ProcessStatusDuplicate: 1,
	}
	for status, n := range want {
		if counts[status] != n {
			t.Fatalf("status %s: want %d got %d", status, n, counts[status])
		}
	}
	if env.Publisher.Count(services.TopicWebhookHandlerFailed) != 1 {
		t.Fatal("malformed delivery should be reported")
	}
}

func TestHandleMirrorsOrdersAndBookings(t *testing.T) {
	env := testutil.NewEnv(t)

	order := func(version int, state string) []byte {
		return testutil.EventBody(testutil.NewEventID(), services.EventOrderUpdated, "order_updated", "O1", map[string]any{
			"order_updated": map[string]any{"order_id": "O1", "state": state, "version": version, "location_id": "L1"},
		})
	}
	mustSucceed(t, env, order(1, "OPEN"))
	mustSucceed(t, env, order(2, "COMPLETED"))

	var orders []models.SquareOrder
	env.DB.Find(&orders)
	if len(orders) != 1 || orders[0].State != "COMPLETED" || orders[0].Version != 2 {
		t.Fatalf("order should be upserted in place: %+v", orders)
	}

	booking := testutil.EventBody(testutil.NewEventID(), services.EventBookingCreated, "booking", "B1", map[string]any{
		"booking": map[string]any{"id": "B1", "status": "ACCEPTED", "customer_id": "C1", "start_at": "2026-10-20T15:00:00Z"},
	})
	mustSucceed(t, env, booking)
	var b models.SquareBooking
	if err := env.DB.First(&b, "square_id = ?", "B1").Error; err != nil || b.Status != "ACCEPTED" || b.StartAt == nil {
		t.Fatalf("booking not mirrored: %+v %v", b, err)
	}
}

func TestGiftCardEventUpdatesPass(t *testing.T) {
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

	body := testutil.EventBody(testutil.NewEventID(), services.EventGiftCardUpdated, "gift_card", "gc1", map[string]any{
		"gift_card": map[string]any{
			"id": "gc1", "gan": walletGAN,
			"balance_money": map[string]any{"amount": 700, "currency": "USD"},
		},
	})
	mustSucceed(t, env, body)

	var updated models.WalletPass
	env.DB.First(&updated, "serial_number = ?", pass.SerialNumber)
	if updated.BalanceCents != 700 || env.Pusher.Count() != 1 {
		t.Fatalf("balance change should update and push: %+v pushes=%d", updated, env.Pusher.Count())
	}
}

func TestDBDeduperClaimAndRelease(t *testing.T) {
	db := testutil.NewDB(t)
	d := services.NewDBDeduper(db)
	ctx := context.Background()
	meta := services.EventMeta{ID: "evt-1", Type: "payment.updated", MerchantID: "M"}

	first, err := d.Claim(ctx, meta, []byte(`{"x":1}`))
	if err != nil || !first {
		t.Fatalf("first claim: %v %v", first, err)
	}
	again, err := d.Claim(ctx, meta, []byte(`{"x":1}`))
	if err != nil || again {
		t.Fatalf("second claim should lose: %v %v", again, err)
	}
	if err := d.Release(ctx, meta.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := d.Claim(ctx, meta, nil); !ok {
		t.Fatal("released id should be claimable")
	}
}
