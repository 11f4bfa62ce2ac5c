// testutil/fakes.go
package testutil

import (
	"context"
	"sync"

	"salon-referral-system/models"
	"salon-referral-system/services"
)

// FakeNotifier records every message instead of sending it.
type FakeNotifier struct {
	mu            sync.Mutex
	ReferralCodes []string // customer ids
	Rewards       []models.GiftCardReward
	Err           error
}

func (n *FakeNotifier) SendReferralCode(_ context.Context, c models.Customer) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return false, n.Err
	}
	n.ReferralCodes = append(n.ReferralCodes, c.ID)
	return true, nil
}

func (n *FakeNotifier) SendRewardIssued(_ context.Context, _ models.Customer, r models.GiftCardReward) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return false, n.Err
	}
	n.Rewards = append(n.Rewards, r)
	return true, nil
}

type PublishedEvent struct {
	Type    string
	Key     string
	Payload any
}

// FakePublisher keeps published events in memory.
type FakePublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func (p *FakePublisher) Publish(_ context.Context, eventType, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Type: eventType, Key: key, Payload: payload})
	return nil
}

func (p *FakePublisher) Close() error { return nil }

// Count returns the number of events published with eventType.
func (p *FakePublisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *FakePublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedEvent(nil), p.events...)
}

// FakePusher records push tokens; tokens listed in Invalid are rejected the
// way APNs rejects unregistered devices.
type FakePusher struct {
	mu      sync.Mutex
	Pushed  []string
	Invalid map[string]bool
}

func (p *FakePusher) Push(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Invalid[token] {
		return services.ErrPushTokenInvalid
	}
	p.Pushed = append(p.Pushed, token)
	return nil
}

func (p *FakePusher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Pushed)
}

// MemoryStore is an in-memory services.PassStore.
type MemoryStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Objects == nil {
		s.Objects = map[string][]byte{}
	}
	s.Objects[key] = append([]byte(nil), body...)
	return "https://cdn.example.test/" + key, nil
}
