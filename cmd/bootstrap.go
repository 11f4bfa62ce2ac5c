// cmd/bootstrap.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"salon-referral-system/config"
	"salon-referral-system/logger"
	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/utils"
)

func loadEnv() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	if !cfg.DotEnvLoaded {
		log.Warn("[BOOT] no .env file found, reading environment variables directly")
	}
	return cfg, log, nil
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL environment variable not set")
	}
	level := gormlogger.Warn
	if cfg.IsProduction() {
		level = gormlogger.Error
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// container holds every long-lived dependency built for one process.
type container struct {
	square    *services.SquareClient
	publisher services.EventPublisher
	deduper   services.EventDeduper

	rewards   *services.RewardService
	mirrors   *services.MirrorService
	referrals *services.ReferralService
	wallet    *services.WalletService
	webhooks  *services.WebhookService
	clicks    *services.ClickService
	analytics *services.AnalyticsService
	reconcile *services.ReconcileService

	closers []func() error
}

func (c *container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, db *gorm.DB, log *zap.Logger) (*container, error) {
	c := &container{square: services.NewSquareClient(cfg.Square)}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := services.NewKafkaPublisher(cfg.Kafka.Brokers, nil)
		if err != nil {
			return nil, err
		}
		c.publisher = pub
		log.Info("[BOOT] kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		c.publisher = services.NewLogPublisher(log)
	}
	c.closers = append(c.closers, c.publisher.Close)

	if cfg.Redis.URL != "" {
		client, err := services.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		c.deduper = services.NewRedisDeduper(client)
		c.closers = append(c.closers, client.Close)
		log.Info("[BOOT] redis event dedupe enabled")
	} else {
		c.deduper = services.NewDBDeduper(db)
	}

	signer, err := services.LoadPassSigner(cfg.Wallet)
	var pusher services.PassPusher
	switch {
	case errors.Is(err, services.ErrWalletNotConfigured):
		log.Warn("[BOOT] wallet certificates not configured, pass downloads disabled")
		signer = nil
	case err != nil:
		return nil, err
	default:
		pusher = services.NewAPNsPusher(signer.TLSCertificate(), cfg.Wallet.PassTypeIdentifier, cfg.Wallet.APNSProduction)
	}

	var store services.PassStore
	if cfg.R2Enabled() {
		r2, err := utils.NewR2Store(ctx, cfg.R2)
		if err != nil {
			return nil, err
		}
		store = r2
	}

	notifier := services.NewNotificationService(cfg.Email, log)

	c.rewards = services.NewRewardService(c.square, cfg.Rewards, log)
	c.mirrors = services.NewMirrorService(db)
	c.referrals = services.NewReferralService(db, c.square, c.rewards, c.mirrors, notifier, c.publisher, cfg, log)
	c.wallet = services.NewWalletService(db,
		services.NewPassBuilder(cfg.Wallet, signer),
		services.NewPassTokens(cfg.Wallet.TokenSecret),
		pusher, store, c.square, log)
	c.webhooks = services.NewWebhookService(db,
		services.NewWebhookVerifier(cfg.Square.WebhookSignatureKey, cfg.Square.WebhookNotificationURL),
		c.deduper, c.referrals, c.mirrors, c.wallet, c.publisher, log)
	c.analytics = services.NewAnalyticsService(db)
	c.reconcile = services.NewReconcileService(db, c.publisher, log)

	clicks, err := services.NewClickService(db, cfg.Referral.IPHashSalt, cfg.Referral.ClickNodeID, log)
	if err != nil {
		return nil, err
	}
	c.clicks = clicks
	return c, nil
}
