// services/square_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salon-referral-system/config"
)

const (
	squareProductionURL = "https://connect.squareup.com"
	squareSandboxURL    = "https://connect.squareupsandbox.com"
)

// SquareGateway is the slice of the Square API this service depends on.
// Handlers and services take the interface so tests can swap in a fake.
type SquareGateway interface {
	RetrieveCustomer(ctx context.Context, customerID string) (*SquareCustomer, error)
	RetrieveCustomerAttribute(ctx context.Context, customerID, key string) (string, error)
	SearchCustomersUpdatedSince(ctx context.Context, since time.Time, cursor string) ([]SquareCustomer, string, error)
	RetrieveOrder(ctx context.Context, orderID string) (*SquareOrder, error)
	RetrieveGiftCard(ctx context.Context, giftCardID string) (*SquareGiftCard, error)
	CreateGiftCard(ctx context.Context, idempotencyKey string) (*SquareGiftCard, error)
	ActivateGiftCard(ctx context.Context, idempotencyKey, giftCardID string, amount Money, referenceID string) (*SquareGiftCardActivity, error)
	AdjustGiftCardBalance(ctx context.Context, idempotencyKey, giftCardID string, amount Money) (*SquareGiftCardActivity, error)
	LinkCustomerToGiftCard(ctx context.Context, giftCardID, customerID string) error
}

type SquareClient struct {
	BaseURL    string
	Token      string
	APIVersion string
	LocationID string
	Client     *http.Client
}

func NewSquareClient(cfg config.SquareConfig) *SquareClient {
	base := squareProductionURL
	if cfg.Environment == "sandbox" {
		base = squareSandboxURL
	}
	return &SquareClient{
		BaseURL:    base,
		Token:      cfg.AccessToken,
		APIVersion: cfg.APIVersion,
		LocationID: cfg.LocationID,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SquareAPIError is a non-2xx answer from Square.
type SquareAPIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *SquareAPIError) Error() string {
	return fmt.Sprintf("square api %d %s: %s", e.StatusCode, e.Code, e.Detail)
}

func (e *SquareAPIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return ErrGatewayUnavailable
	}
	return nil
}

func (c *SquareClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode square request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Square-Version", c.APIVersion)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &SquareAPIError{StatusCode: resp.StatusCode}
		var payload struct {
			Errors []struct {
				Code   string `json:"code"`
				Detail string `json:"detail"`
			} `json:"errors"`
		}
		if json.Unmarshal(raw, &payload) == nil && len(payload.Errors) > 0 {
			apiErr.Code = payload.Errors[0].Code
			apiErr.Detail = payload.Errors[0].Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode square response: %w", err)
	}
	return nil
}

func (c *SquareClient) RetrieveCustomer(ctx context.Context, customerID string) (*SquareCustomer, error) {
	var out struct {
		Customer *SquareCustomer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/customers/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	if out.Customer == nil {
		return nil, ErrNotFound
	}
	return out.Customer, nil
}

// RetrieveCustomerAttribute returns "" when the attribute is not set.
func (c *SquareClient) RetrieveCustomerAttribute(ctx context.Context, customerID, key string) (string, error) {
	var out struct {
		CustomAttribute *struct {
			Value json.RawMessage `json:"value"`
		} `json:"custom_attribute"`
	}
	path := fmt.Sprintf("/v2/customers/%s/custom-attributes/%s", url.PathEscape(customerID), url.PathEscape(key))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if out.CustomAttribute == nil {
		return "", nil
	}
	return attributeString(out.CustomAttribute.Value), nil
}

func (c *SquareClient) SearchCustomersUpdatedSince(ctx context.Context, since time.Time, cursor string) ([]SquareCustomer, string, error) {
	req := map[string]any{
		"limit": 100,
		"query": map[string]any{
			"filter": map[string]any{
				"updated_at": map[string]any{"start_at": since.UTC().Format(time.RFC3339)},
			},
			"sort": map[string]any{"field": "CREATED_AT", "order": "ASC"},
		},
	}
	if cursor != "" {
		req["cursor"] = cursor
	}
	var out struct {
		Customers []SquareCustomer `json:"customers"`
		Cursor    string           `json:"cursor"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/customers/search", req, &out); err != nil {
		return nil, "", err
	}
	return out.Customers, out.Cursor, nil
}

func (c *SquareClient) RetrieveOrder(ctx context.Context, orderID string) (*SquareOrder, error) {
	var out struct {
		Order *SquareOrder `json:"order"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	if out.Order == nil {
		return nil, ErrNotFound
	}
	return out.Order, nil
}

func (c *SquareClient) RetrieveGiftCard(ctx context.Context, giftCardID string) (*SquareGiftCard, error) {
	var out struct {
		GiftCard *SquareGiftCard `json:"gift_card"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/gift-cards/"+url.PathEscape(giftCardID), nil, &out); err != nil {
		return nil, err
	}
	if out.GiftCard == nil {
		return nil, ErrNotFound
	}
	return out.GiftCard, nil
}

func (c *SquareClient) CreateGiftCard(ctx context.Context, idempotencyKey string) (*SquareGiftCard, error) {
	req := map[string]any{
		"idempotency_key": idempotencyKey,
		"location_id":     c.LocationID,
		"gift_card":       map[string]any{"type": "DIGITAL"},
	}
	var out struct {
		GiftCard *SquareGiftCard `json:"gift_card"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/gift-cards", req, &out); err != nil {
		return nil, err
	}
	if out.GiftCard == nil || out.GiftCard.ID == "" {
		return nil, fmt.Errorf("square returned no gift card")
	}
	return out.GiftCard, nil
}

func (c *SquareClient) ActivateGiftCard(ctx context.Context, idempotencyKey, giftCardID string, amount Money, referenceID string) (*SquareGiftCardActivity, error) {
	return c.createActivity(ctx, idempotencyKey, map[string]any{
		"type":         "ACTIVATE",
		"location_id":  c.LocationID,
		"gift_card_id": giftCardID,
		"activate_activity_details": map[string]any{
			"amount_money":                 amount,
			"reference_id":                 referenceID,
			"buyer_payment_instrument_ids": []string{"referral-reward"},
		},
	})
}

func (c *SquareClient) AdjustGiftCardBalance(ctx context.Context, idempotencyKey, giftCardID string, amount Money) (*SquareGiftCardActivity, error) {
	return c.createActivity(ctx, idempotencyKey, map[string]any{
		"type":         "ADJUST_INCREMENT",
		"location_id":  c.LocationID,
		"gift_card_id": giftCardID,
		"adjust_increment_activity_details": map[string]any{
			"amount_money": amount,
			"reason":       "COMPLIMENTARY",
		},
	})
}

func (c *SquareClient) createActivity(ctx context.Context, idempotencyKey string, activity map[string]any) (*SquareGiftCardActivity, error) {
	req := map[string]any{
		"idempotency_key":    idempotencyKey,
		"gift_card_activity": activity,
	}
	var out struct {
		Activity *SquareGiftCardActivity `json:"gift_card_activity"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/gift-cards/activities", req, &out); err != nil {
		return nil, err
	}
	if out.Activity == nil {
		return nil, fmt.Errorf("square returned no gift card activity")
	}
	return out.Activity, nil
}

func (c *SquareClient) LinkCustomerToGiftCard(ctx context.Context, giftCardID, customerID string) error {
	path := fmt.Sprintf("/v2/gift-cards/%s/link-customer", url.PathEscape(giftCardID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"customer_id": customerID}, nil)
}
