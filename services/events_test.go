package services_test

import (
	"errors"
	"testing"

	"salon-referral-system/services"
	"salon-referral-system/testutil"
)

func TestDecodeEventVariants(t *testing.T) {
	t.Run("customer", func(t *testing.T) {
		ev, err := services.DecodeEvent(testutil.CustomerCreated("e1", "C1", "ana", "REF1"))
		if err != nil {
			t.Fatal(err)
		}
		ce, ok := ev.(services.CustomerEvent)
		if !ok {
			t.Fatalf("expected CustomerEvent, got %T", ev)
		}
		if ce.Customer.ID != "C1" || ce.Customer.ReferenceID != "REF1" || ce.Meta().MerchantID != testutil.MerchantID {
			t.Fatalf("unexpected decode: %+v", ce)
		}
	})

	t.Run("custom attribute", func(t *testing.T) {
		ev, err := services.DecodeEvent(testutil.CustomerAttributeUpdated("e2", "C9", "referral_code", " abc123 "))
		if err != nil {
			t.Fatal(err)
		}
		ae := ev.(services.CustomerAttributeEvent)
		if ae.CustomerID != "C9" || ae.Key != "referral_code" || ae.Value != " abc123 " {
			t.Fatalf("unexpected decode: %+v", ae)
		}
	})

	t.Run("payment", func(t *testing.T) {
		ev, err := services.DecodeEvent(testutil.PaymentUpdated("e3", "P1", "C1", "COMPLETED"))
		if err != nil {
			t.Fatal(err)
		}
		pe := ev.(services.PaymentEvent)
		if !pe.Payment.Completed() || pe.Payment.AmountMoney.Amount != 4500 {
			t.Fatalf("unexpected decode: %+v", pe.Payment)
		}
	})

	t.Run("order updated", func(t *testing.T) {
		body := testutil.EventBody("e4", "order.updated", "order_updated", "O1", map[string]any{
			"order_updated": map[string]any{"order_id": "O1", "state": "OPEN", "version": 3},
		})
		ev, err := services.DecodeEvent(body)
		if err != nil {
			t.Fatal(err)
		}
		if oe := ev.(services.OrderEvent); oe.Order.OrderID != "O1" || oe.Order.Version != 3 {
			t.Fatalf("unexpected decode: %+v", oe.Order)
		}
	})

	t.Run("gift card activity", func(t *testing.T) {
		body := testutil.EventBody("e5", "gift_card.activity.created", "gift_card_activity", "A1", map[string]any{
			"gift_card_activity": map[string]any{
				"id":                      "A1",
				"type":                    "REDEEM",
				"gift_card_id":            "G1",
				"gift_card_gan":           "7783",
				"gift_card_balance_money": map[string]any{"amount": 250, "currency": "USD"},
			},
		})
		ev, err := services.DecodeEvent(body)
		if err != nil {
			t.Fatal(err)
		}
		ge := ev.(services.GiftCardEvent)
		if ge.GiftCardID != "G1" || ge.Balance == nil || ge.Balance.Amount != 250 {
			t.Fatalf("unexpected decode: %+v", ge)
		}
	})

	t.Run("unrecognized", func(t *testing.T) {
		ev, err := services.DecodeEvent(testutil.EventBody("e6", "team_member.created", "team_member", "T1", map[string]any{}))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ev.(services.UnrecognizedEvent); !ok {
			t.Fatalf("expected UnrecognizedEvent, got %T", ev)
		}
	})
}

func TestDecodeEventMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":          []byte(`{"event_id":`),
		"missing type":      []byte(`{"event_id":"e1","data":{"object":{}}}`),
		"missing event id":  []byte(`{"type":"payment.updated","data":{"object":{}}}`),
		"object not object": []byte(`{"event_id":"e1","type":"payment.updated","data":{"object":[1]}}`),
		"payment no id":     []byte(`{"event_id":"e1","type":"payment.updated","data":{"object":{"payment":{"status":"COMPLETED"}}}}`),
		"customer missing":  []byte(`{"event_id":"e1","type":"customer.created","data":{"object":{}}}`),
		"attribute no customer": []byte(`{"event_id":"e1","type":"customer.custom_attribute.owned.updated",` +
			`"data":{"id":"","object":{"custom_attribute":{"key":"referral_code","value":"X"}}}}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := services.DecodeEvent(body); !errors.Is(err, services.ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}
}
