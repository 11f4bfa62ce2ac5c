// services/events.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EventCustomerCreated          = "customer.created"
	EventCustomerUpdated          = "customer.updated"
	EventCustomerAttributeOwned   = "customer.custom_attribute.owned.updated"
	EventCustomerAttributeVisible = "customer.custom_attribute.visible.updated"
	EventPaymentCreated           = "payment.created"
	EventPaymentUpdated           = "payment.updated"
	EventOrderCreated             = "order.created"
	EventOrderUpdated             = "order.updated"
	EventBookingCreated           = "booking.created"
	EventBookingUpdated           = "booking.updated"
	EventGiftCardUpdated          = "gift_card.updated"
	EventGiftCardActivityCreated  = "gift_card.activity.created"
)

// Event is one decoded webhook delivery. The concrete type selects the handler;
// anything not listed above decodes to UnrecognizedEvent.
type Event interface {
	Meta() EventMeta
	isEvent()
}

type EventMeta struct {
	ID         string
	Type       string
	MerchantID string
	CreatedAt  time.Time
	DataID     string
	Object     json.RawMessage
}

func (m EventMeta) Meta() EventMeta { return m }
func (EventMeta) isEvent()          {}

type CustomerEvent struct {
	EventMeta
	Customer SquareCustomer
}

// CustomerAttributeEvent carries a custom attribute written on a customer
// profile, e.g. the referral code captured by the booking flow.
type CustomerAttributeEvent struct {
	EventMeta
	CustomerID string
	Key        string
	Value      string
}

type PaymentEvent struct {
	EventMeta
	Payment SquarePayment
}

type OrderEvent struct {
	EventMeta
	Order SquareOrderRef
}

type BookingEvent struct {
	EventMeta
	Booking SquareBooking
}

// GiftCardEvent is produced by both gift_card.updated and
// gift_card.activity.created. Balance is nil when Square omitted it.
type GiftCardEvent struct {
	EventMeta
	GiftCardID string
	GAN        string
	Balance    *Money
}

type UnrecognizedEvent struct {
	EventMeta
}

type eventEnvelope struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// DecodeEvent validates the envelope and the payload for known types.
// Every validation failure wraps ErrMalformedEvent.
func DecodeEvent(raw []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if strings.TrimSpace(env.EventID) == "" {
		return nil, fmt.Errorf("%w: missing event_id", ErrMalformedEvent)
	}
	obj := bytes.TrimSpace(env.Data.Object)
	if len(obj) == 0 || obj[0] != '{' {
		return nil, fmt.Errorf("%w: data.object must be an object", ErrMalformedEvent)
	}

	meta := EventMeta{
		ID:         env.EventID,
		Type:       env.Type,
		MerchantID: env.MerchantID,
		DataID:     env.Data.ID,
		Object:     json.RawMessage(obj),
	}
	if t := parseSquareTime(env.CreatedAt); t != nil {
		meta.CreatedAt = *t
	}

	switch env.Type {
	case EventCustomerCreated, EventCustomerUpdated:
		var body struct {
			Customer *SquareCustomer `json:"customer"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		if body.Customer == nil || body.Customer.ID == "" {
			return nil, fmt.Errorf("%w: customer.id required", ErrMalformedEvent)
		}
		return CustomerEvent{EventMeta: meta, Customer: *body.Customer}, nil

	case EventCustomerAttributeOwned, EventCustomerAttributeVisible:
		var body struct {
			CustomAttribute *struct {
				Key   string          `json:"key"`
				Value json.RawMessage `json:"value"`
			} `json:"custom_attribute"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		if body.CustomAttribute == nil || body.CustomAttribute.Key == "" {
			return nil, fmt.Errorf("%w: custom_attribute.key required", ErrMalformedEvent)
		}
		// data.id is "<customer id>:<attribute key>"
		customerID, _, _ := strings.Cut(env.Data.ID, ":")
		if customerID == "" {
			return nil, fmt.Errorf("%w: customer id missing from data.id", ErrMalformedEvent)
		}
		return CustomerAttributeEvent{
			EventMeta:  meta,
			CustomerID: customerID,
			Key:        body.CustomAttribute.Key,
			Value:      attributeString(body.CustomAttribute.Value),
		}, nil

	case EventPaymentCreated, EventPaymentUpdated:
		var body struct {
			Payment *SquarePayment `json:"payment"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		if body.Payment == nil || body.Payment.ID == "" {
			return nil, fmt.Errorf("%w: payment.id required", ErrMalformedEvent)
		}
		return PaymentEvent{EventMeta: meta, Payment: *body.Payment}, nil

	case EventOrderCreated, EventOrderUpdated:
		var body struct {
			Created *SquareOrderRef `json:"order_created"`
			Updated *SquareOrderRef `json:"order_updated"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		ref := body.Updated
		if ref == nil {
			ref = body.Created
		}
		if ref == nil || ref.OrderID == "" {
			return nil, fmt.Errorf("%w: order_id required", ErrMalformedEvent)
		}
		return OrderEvent{EventMeta: meta, Order: *ref}, nil

	case EventBookingCreated, EventBookingUpdated:
		var body struct {
			Booking *SquareBooking `json:"booking"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		if body.Booking == nil || body.Booking.ID == "" {
			return nil, fmt.Errorf("%w: booking.id required", ErrMalformedEvent)
		}
		return BookingEvent{EventMeta: meta, Booking: *body.Booking}, nil

	case EventGiftCardUpdated:
		var body struct {
			GiftCard *SquareGiftCard `json:"gift_card"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		if body.GiftCard == nil || body.GiftCard.ID == "" {
			return nil, fmt.Errorf("%w: gift_card.id required", ErrMalformedEvent)
		}
		return GiftCardEvent{
			EventMeta:  meta,
			GiftCardID: body.GiftCard.ID,
			GAN:        body.GiftCard.GAN,
			Balance:    body.GiftCard.BalanceMoney,
		}, nil

	case EventGiftCardActivityCreated:
		var body struct {
			Activity *SquareGiftCardActivity `json:"gift_card_activity"`
		}
		if err := decodeObject(obj, &body); err != nil {
			return nil, err
		}
		if body.Activity == nil || body.Activity.GiftCardID == "" {
			return nil, fmt.Errorf("%w: gift_card_activity.gift_card_id required", ErrMalformedEvent)
		}
		return GiftCardEvent{
			EventMeta:  meta,
			GiftCardID: body.Activity.GiftCardID,
			GAN:        body.Activity.GiftCardGAN,
			Balance:    body.Activity.GiftCardBalanceMoney,
		}, nil
	}

	return UnrecognizedEvent{EventMeta: meta}, nil
}

func decodeObject(obj []byte, dst any) error {
	if err := json.Unmarshal(obj, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// attributeString unwraps a JSON string value and falls back to the raw text
// for numbers or other scalars.
func attributeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
