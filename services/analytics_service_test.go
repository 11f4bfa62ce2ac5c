package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"salon-referral-system/services"
	"salon-referral-system/testutil"
)

func TestPageNormalize(t *testing.T) {
	cases := []struct {
		in, want services.Page
	}{
		{services.Page{}, services.Page{Page: 1, Limit: services.DefaultPageLimit}},
		{services.Page{Page: -3, Limit: 5000}, services.Page{Page: 1, Limit: services.MaxPageLimit}},
		{services.Page{Page: 3, Limit: 10}, services.Page{Page: 3, Limit: 10}},
	}
	for _, c := range cases {
		if got := c.in.Normalize(); got != c.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", c.in, got, c.want)
		}
	}
	if off := (services.Page{Page: 3, Limit: 10}).Offset(); off != 20 {
		t.Errorf("offset = %d", off)
	}
}

func TestReferrersAndDetail(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	c1 := seedReferrer(t, env, "C1", "Ana")
	seedReferrer(t, env, "C9", "Zed")
	for _, id := range []string{"F1", "F2"} {
		mustSucceed(t, env, testutil.CustomerCreated(testutil.NewEventID(), id, "Friend", c1.Code()))
	}
	mustSucceed(t, env, testutil.PaymentUpdated(testutil.NewEventID(), "pay-F1", "F1", "COMPLETED"))

	rows, total, err := env.Analytics.Referrers(ctx, services.Page{}, "rewards")
	if err != nil {
		t.Fatal(err)
	}
	// C1, C9 and F1 hold codes.
	if total != 3 || len(rows) != 3 {
		t.Fatalf("expected 3 referrers, got %d", total)
	}
	top := rows[0]
	if top.CustomerID != "C1" || top.ReferredCount != 2 || top.Conversions != 1 || top.RewardsCents != 1000 {
		t.Fatalf("unexpected top referrer: %+v", top)
	}

	detail, err := env.Analytics.ReferralDetail(ctx, "F1")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Referrer == nil || detail.Referrer.ID != "C1" || len(detail.Rewards) != 2 {
		t.Fatalf("unexpected detail: referrer=%v rewards=%d", detail.Referrer, len(detail.Rewards))
	}
	detail, err = env.Analytics.ReferralDetail(ctx, "C1")
	if err != nil || len(detail.Referred) != 2 {
		t.Fatalf("C1 should list both friends: %v", err)
	}
	if _, err := env.Analytics.ReferralDetail(ctx, "nobody"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	st, err := env.Analytics.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Customers != 4 || st.ReferredCustomers != 2 || st.Conversions != 1 || st.AmountIssuedCents != 2000 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestTrackClick(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	click, err := env.Clicks.Track(ctx, services.ClickRequest{
		RefCode:     " ana23456 ",
		UTMSource:   "instagram",
		FirstSeenAt: json.RawMessage(`1760000000000`),
	}, "203.0.113.9", "Mozilla/5.0")
	if err != nil {
		t.Fatal(err)
	}
	if click.RefCode != "ANA23456" || click.UserAgent != "Mozilla/5.0" {
		t.Fatalf("unexpected click: %+v", click)
	}
	if click.IPHash != services.HashIP("pepper", "203.0.113.9") || click.IPHash == "203.0.113.9" {
		t.Fatal("ip must be stored hashed")
	}
	if !click.FirstSeenAt.Equal(time.UnixMilli(1760000000000)) {
		t.Fatalf("first seen not parsed: %v", click.FirstSeenAt)
	}

	second, err := env.Clicks.Track(ctx, services.ClickRequest{
		RefCode:     "ANA23456",
		FirstSeenAt: json.RawMessage(`"2026-10-01T10:00:00Z"`),
	}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == click.ID || second.FirstSeenAt.Year() != 2026 {
		t.Fatalf("unexpected second click: %+v", second)
	}

	if _, err := env.Clicks.Track(ctx, services.ClickRequest{RefCode: "  "}, "", ""); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	rows, total, err := env.Analytics.Clicks(ctx, services.Page{}, "ana23456")
	if err != nil || total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 clicks for the code, got %d (%v)", total, err)
	}
}
