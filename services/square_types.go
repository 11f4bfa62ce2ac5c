// services/square_types.go
package services

import "time"

// Money mirrors Square's amount + currency pair. Amount is in the smallest unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type SquareCustomer struct {
	ID           string `json:"id"`
	GivenName    string `json:"given_name,omitempty"`
	FamilyName   string `json:"family_name,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type SquarePayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CustomerID  string `json:"customer_id,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	LocationID  string `json:"location_id,omitempty"`
	AmountMoney Money  `json:"amount_money"`
	TotalMoney  *Money `json:"total_money,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Completed reports whether the payment qualifies for first-payment attribution.
func (p SquarePayment) Completed() bool {
	return p.Status == "COMPLETED"
}

// SquareOrderRef is the trimmed order object delivered by order.created / order.updated.
type SquareOrderRef struct {
	OrderID    string `json:"order_id"`
	State      string `json:"state,omitempty"`
	Version    int64  `json:"version,omitempty"`
	LocationID string `json:"location_id,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type SquareOrder struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id,omitempty"`
	LocationID string `json:"location_id,omitempty"`
	State      string `json:"state,omitempty"`
	Version    int64  `json:"version,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type SquareBooking struct {
	ID         string `json:"id"`
	Status     string `json:"status,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	LocationID string `json:"location_id,omitempty"`
	StartAt    string `json:"start_at,omitempty"`
	Version    int64  `json:"version,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type SquareGiftCard struct {
	ID           string   `json:"id"`
	Type         string   `json:"type,omitempty"`
	GAN          string   `json:"gan,omitempty"`
	State        string   `json:"state,omitempty"`
	BalanceMoney *Money   `json:"balance_money,omitempty"`
	CustomerIDs  []string `json:"customer_ids,omitempty"`
}

type SquareGiftCardActivity struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	GiftCardID           string `json:"gift_card_id,omitempty"`
	GiftCardGAN          string `json:"gift_card_gan,omitempty"`
	GiftCardBalanceMoney *Money `json:"gift_card_balance_money,omitempty"`
}

// parseSquareTime returns nil for empty or unparsable timestamps.
func parseSquareTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
