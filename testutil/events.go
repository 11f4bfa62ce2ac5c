// testutil/events.go
package testutil

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

var eventSeq atomic.Int64

// NewEventID returns a unique Square-style event id.
func NewEventID() string {
	return fmt.Sprintf("evt-%06d", eventSeq.Add(1))
}

// EventBody renders a webhook envelope around object.
func EventBody(eventID, eventType, dataType, dataID string, object any) []byte {
	body, err := json.Marshal(map[string]any{
		"merchant_id": MerchantID,
		"type":        eventType,
		"event_id":    eventID,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"type":   dataType,
			"id":     dataID,
			"object": object,
		},
	})
	if err != nil {
		panic(err)
	}
	return body
}

func CustomerCreated(eventID, customerID, givenName, referenceID string) []byte {
	return EventBody(eventID, "customer.created", "customer", customerID, map[string]any{
		"customer": map[string]any{
			"id":            customerID,
			"given_name":    givenName,
			"family_name":   "Tester",
			"email_address": customerID + "@example.test",
			"reference_id":  referenceID,
		},
	})
}

func CustomerAttributeUpdated(eventID, customerID, key, value string) []byte {
	return EventBody(eventID, "customer.custom_attribute.owned.updated", "custom_attribute",
		customerID+":"+key, map[string]any{
			"custom_attribute": map[string]any{"key": key, "value": value},
		})
}

func PaymentUpdated(eventID, paymentID, customerID, status string) []byte {
	return EventBody(eventID, "payment.updated", "payment", paymentID, map[string]any{
		"payment": map[string]any{
			"id":           paymentID,
			"status":       status,
			"customer_id":  customerID,
			"amount_money": map[string]any{"amount": 4500, "currency": "USD"},
		},
	})
}
