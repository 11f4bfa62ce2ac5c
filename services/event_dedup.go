// services/event_dedup.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/models"
)

// Square keeps retrying a delivery for up to 72 hours.
const eventDedupTTL = 72 * time.Hour

// EventDeduper claims a webhook event id. Claim returns false when the id was
// already seen. Release gives the id back after a failed handler so Square's
// redelivery is processed again.
type EventDeduper interface {
	Claim(ctx context.Context, meta EventMeta, payload []byte) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// ConnectRedis accepts either a redis:// URL or a bare host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type RedisDeduper struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{Client: client, TTL: eventDedupTTL}
}

func (d *RedisDeduper) Claim(ctx context.Context, meta EventMeta, _ []byte) (bool, error) {
	ok, err := d.Client.SetNX(ctx, "square:webhook:"+meta.ID, meta.Type, d.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.Client.Del(ctx, "square:webhook:"+eventID).Err()
}

// DBDeduper records every claimed event in webhook_events.
type DBDeduper struct {
	DB *gorm.DB
}

func NewDBDeduper(db *gorm.DB) *DBDeduper {
	return &DBDeduper{DB: db}
}

func (d *DBDeduper) Claim(ctx context.Context, meta EventMeta, payload []byte) (bool, error) {
	row := models.WebhookEvent{
		EventID:    meta.ID,
		EventType:  meta.Type,
		MerchantID: meta.MerchantID,
		Payload:    datatypes.JSON(payload),
	}
	res := d.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert webhook event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *DBDeduper) Release(ctx context.Context, eventID string) error {
	return d.DB.WithContext(ctx).Where("event_id = ?", eventID).Delete(&models.WebhookEvent{}).Error
}
