// testutil/square.go
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"salon-referral-system/services"
)

// FakeSquare is an in-memory services.SquareGateway. Gift card calls honor
// idempotency keys the way Square does.
type FakeSquare struct {
	mu sync.Mutex

	Customers  map[string]services.SquareCustomer
	Attributes map[string]string // "<customer id>:<key>"
	Orders     map[string]services.SquareOrder
	GiftCards  map[string]*services.SquareGiftCard

	// Fail makes the named method return the error instead of succeeding.
	Fail map[string]error

	calls      map[string]int
	cardByKey  map[string]string
	activities map[string]*services.SquareGiftCardActivity
	seq        int
}

func NewFakeSquare() *FakeSquare {
	return &FakeSquare{
		Customers:  map[string]services.SquareCustomer{},
		Attributes: map[string]string{},
		Orders:     map[string]services.SquareOrder{},
		GiftCards:  map[string]*services.SquareGiftCard{},
		Fail:       map[string]error{},
		calls:      map[string]int{},
		cardByKey:  map[string]string{},
		activities: map[string]*services.SquareGiftCardActivity{},
	}
}

// Calls returns how many times method was invoked.
func (f *FakeSquare) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SetFailure installs or clears (err == nil) a failure for method.
func (f *FakeSquare) SetFailure(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Fail, method)
		return
	}
	f.Fail[method] = err
}

// Balance returns the current balance of a card, 0 when unknown.
func (f *FakeSquare) Balance(giftCardID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if card, ok := f.GiftCards[giftCardID]; ok && card.BalanceMoney != nil {
		return card.BalanceMoney.Amount
	}
	return 0
}

func (f *FakeSquare) enter(method string) error {
	f.calls[method]++
	return f.Fail[method]
}

func (f *FakeSquare) RetrieveCustomer(_ context.Context, customerID string) (*services.SquareCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveCustomer"); err != nil {
		return nil, err
	}
	c, ok := f.Customers[customerID]
	if !ok {
		return nil, services.ErrNotFound
	}
	return &c, nil
}

func (f *FakeSquare) RetrieveCustomerAttribute(_ context.Context, customerID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveCustomerAttribute"); err != nil {
		return "", err
	}
	return f.Attributes[customerID+":"+key], nil
}

func (f *FakeSquare) SearchCustomersUpdatedSince(_ context.Context, since time.Time, cursor string) ([]services.SquareCustomer, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SearchCustomersUpdatedSince"); err != nil {
		return nil, "", err
	}
	var out []services.SquareCustomer
	for _, c := range f.Customers {
		if t, err := time.Parse(time.RFC3339, c.UpdatedAt); err == nil && !t.After(since) {
			continue
		}
		out = append(out, c)
	}
	return out, "", nil
}

func (f *FakeSquare) RetrieveOrder(_ context.Context, orderID string) (*services.SquareOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveOrder"); err != nil {
		return nil, err
	}
	o, ok := f.Orders[orderID]
	if !ok {
		return nil, services.ErrNotFound
	}
	return &o, nil
}

func (f *FakeSquare) RetrieveGiftCard(_ context.Context, giftCardID string) (*services.SquareGiftCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveGiftCard"); err != nil {
		return nil, err
	}
	card, ok := f.GiftCards[giftCardID]
	if !ok {
		return nil, services.ErrNotFound
	}
	cp := *card
	if card.BalanceMoney != nil {
		m := *card.BalanceMoney
		cp.BalanceMoney = &m
	}
	return &cp, nil
}

func (f *FakeSquare) CreateGiftCard(_ context.Context, idempotencyKey string) (*services.SquareGiftCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateGiftCard"); err != nil {
		return nil, err
	}
	if id, ok := f.cardByKey[idempotencyKey]; ok {
		cp := *f.GiftCards[id]
		return &cp, nil
	}
	f.seq++
	card := &services.SquareGiftCard{
		ID:    fmt.Sprintf("gftc:%04d", f.seq),
		Type:  "DIGITAL",
		GAN:   fmt.Sprintf("7783320%09d", f.seq),
		State: "PENDING",
	}
	f.GiftCards[card.ID] = card
	f.cardByKey[idempotencyKey] = card.ID
	cp := *card
	return &cp, nil
}

func (f *FakeSquare) ActivateGiftCard(_ context.Context, idempotencyKey, giftCardID string, amount services.Money, _ string) (*services.SquareGiftCardActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ActivateGiftCard"); err != nil {
		return nil, err
	}
	return f.load(idempotencyKey, "ACTIVATE", giftCardID, amount)
}

func (f *FakeSquare) AdjustGiftCardBalance(_ context.Context, idempotencyKey, giftCardID string, amount services.Money) (*services.SquareGiftCardActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AdjustGiftCardBalance"); err != nil {
		return nil, err
	}
	return f.load(idempotencyKey, "ADJUST_INCREMENT", giftCardID, amount)
}

func (f *FakeSquare) load(key, kind, giftCardID string, amount services.Money) (*services.SquareGiftCardActivity, error) {
	if act, ok := f.activities[key]; ok {
		return act, nil
	}
	card, ok := f.GiftCards[giftCardID]
	if !ok {
		return nil, services.ErrNotFound
	}
	if card.BalanceMoney == nil {
		card.BalanceMoney = &services.Money{Currency: amount.Currency}
	}
	card.BalanceMoney.Amount += amount.Amount
	card.State = "ACTIVE"

	f.seq++
	balance := *card.BalanceMoney
	act := &services.SquareGiftCardActivity{
		ID:                   fmt.Sprintf("gcact:%04d", f.seq),
		Type:                 kind,
		GiftCardID:           card.ID,
		GiftCardGAN:          card.GAN,
		GiftCardBalanceMoney: &balance,
	}
	f.activities[key] = act
	return act, nil
}

func (f *FakeSquare) LinkCustomerToGiftCard(_ context.Context, giftCardID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("LinkCustomerToGiftCard"); err != nil {
		return err
	}
	card, ok := f.GiftCards[giftCardID]
	if !ok {
		return services.ErrNotFound
	}
	card.CustomerIDs = append(card.CustomerIDs, customerID)
	return nil
}
