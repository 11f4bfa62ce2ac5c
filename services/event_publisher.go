// services/event_publisher.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Domain and operator events. The webhook endpoint always acknowledges, so
// handler failures surface here instead of as HTTP errors.
const (
	TopicRewardIssued         = "reward.issued"
	TopicReferralConverted    = "referral.converted"
	TopicWebhookHandlerFailed = "webhook.handler_failed"
	TopicReconciliationAlert  = "reconciliation.alert"
)

type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
	Close() error
}

type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload any) error {
	value, err := json.Marshal(map[string]any{
		"type":        eventType,
		"occurred_at": time.Now().UTC(),
		"data":        payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	topic := eventType
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		topic = mapped
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no brokers are configured.
type LogPublisher struct {
	Log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{Log: log}
}

func (p *LogPublisher) Publish(_ context.Context, eventType, key string, payload any) error {
	p.Log.Info("[EVENT] "+eventType, zap.String("key", key), zap.Any("payload", payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// publishQuietly logs publisher failures; publishing never fails the caller.
func publishQuietly(ctx context.Context, pub EventPublisher, log *zap.Logger, eventType, key string, payload any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, eventType, key, payload); err != nil {
		log.Warn("[EVENT] publish failed", zap.String("type", eventType), zap.String("key", key), zap.Error(err))
	}
}
