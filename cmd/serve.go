// cmd/serve.go
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salon-referral-system/config"
	"salon-referral-system/handlers"
	"salon-referral-system/middleware"
	"salon-referral-system/services"
	"salon-referral-system/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, workers and scheduler (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadEnv()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Square.WebhookSignatureKey == "" {
		log.Warn("[BOOT] SQUARE_WEBHOOK_SIGNATURE_KEY not set, every webhook will be rejected")
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := build(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	app := newApp(cfg, deps, log)

	sched, err := services.StartReconcileScheduler(ctx, deps.reconcile, cfg.Schedule.ReconcileInterval, log)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Shutdown() }()

	go workers.PollPassBalances(ctx, db, deps.wallet, cfg.Schedule.BalanceSyncInterval, log)
	workers.NewCustomerSyncWorker(db, deps.square, deps.referrals, cfg.Schedule.CustomerSyncInterval, log).Start(ctx)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("[BOOT] server error", zap.Error(err))
			stop()
		}
	}()
	log.Info("[BOOT] server running",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
		zap.Strings("origins", cfg.AllowedOrigins))

	<-ctx.Done()
	log.Info("[BOOT] shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func newApp(cfg config.Config, deps *container, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 2 * 1024 * 1024,
		AppName:   "salon-referral",
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: !cfg.IsProduction()}))
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Key",
		MaxAge:       86400,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	errs := handlers.ErrorResponder{Production: cfg.IsProduction(), Log: log}
	handlers.SetupWebhookRoutes(app, deps.webhooks)
	handlers.SetupReferralRoutes(app, &handlers.ReferralHandler{
		Clicks:         deps.clicks,
		Referrals:      deps.referrals,
		ErrorResponder: errs,
	})
	handlers.SetupWalletRoutes(app, &handlers.WalletHandler{
		Wallet:         deps.wallet,
		ErrorResponder: errs,
	})
	handlers.SetupAdminRoutes(app, &handlers.AdminHandler{
		Analytics:      deps.analytics,
		Reconcile:      deps.reconcile,
		ErrorResponder: errs,
	}, middleware.AdminAuthMiddleware(cfg.Admin.APIKey, cfg.IsProduction(), log))

	return app
}
