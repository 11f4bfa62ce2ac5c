// services/apns_pusher.go
package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/sideshow/apns2"
)

// ErrPushTokenInvalid means APNs no longer accepts the device token and the
// registration can be dropped.
var ErrPushTokenInvalid = errors.New("push token no longer valid")

// PassPusher tells a device that one of its passes changed. Wallet pushes carry
// an empty payload; the device then asks the web service what changed.
type PassPusher interface {
	Push(ctx context.Context, pushToken string) error
}

type APNsPusher struct {
	Client *apns2.Client
	Topic  string
}

func NewAPNsPusher(cert tls.Certificate, topic string, production bool) *APNsPusher {
	client := apns2.NewClient(cert)
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNsPusher{Client: client, Topic: topic}
}

func (p *APNsPusher) Push(ctx context.Context, pushToken string) error {
	res, err := p.Client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: pushToken,
		Topic:       p.Topic,
		Payload:     []byte("{}"),
	})
	if err != nil {
		return fmt.Errorf("apns push: %w", err)
	}
	if res.Sent() {
		return nil
	}
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("%w: %s", ErrPushTokenInvalid, res.Reason)
	}
	return fmt.Errorf("apns push rejected: %d %s", res.StatusCode, res.Reason)
}
