// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is built once per process and handed to every constructor.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	AllowedOrigins []string

	Square   SquareConfig
	Rewards  RewardConfig
	Referral ReferralConfig
	Admin    AdminConfig
	Email    EmailConfig
	Wallet   WalletConfig
	R2       R2Config
	Redis    RedisConfig
	Kafka    KafkaConfig
	Schedule ScheduleConfig

	// DotEnvLoaded reports whether a .env file was found; Load has no logger
	// so the caller warns about it.
	DotEnvLoaded bool
}

type SquareConfig struct {
	AccessToken            string
	Environment            string // production | sandbox
	APIVersion             string
	LocationID             string
	WebhookSignatureKey    string
	WebhookNotificationURL string
	ReferralAttributeKey   string
}

type RewardConfig struct {
	SignupBonusCents    int64
	ReferrerRewardCents int64
	Currency            string
}

type ReferralConfig struct {
	BaseURL    string
	CodeLength int
	IPHashSalt string
	// ClickNodeID is this instance's snowflake node (0-1023); it must differ
	// between instances sharing a database.
	ClickNodeID int64
}

type AdminConfig struct {
	APIKey string
}

type EmailConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	Disabled       bool
}

type WalletConfig struct {
	PassTypeIdentifier string
	TeamIdentifier     string
	OrganizationName   string
	Description        string
	WebServiceURL      string
	CertPEMBase64      string
	KeyPEMBase64       string
	CertP12Base64      string
	CertPassword       string
	WWDRPEMBase64      string
	AssetsDir          string
	TokenSecret        string
	APNSProduction     bool
	BackgroundColor    string
	ForegroundColor    string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
}

type ScheduleConfig struct {
	ReconcileInterval    time.Duration
	BalanceSyncInterval  time.Duration
	CustomerSyncInterval time.Duration
}

// IsProduction reports whether stack traces and error details must be hidden.
func (c Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// R2Enabled reports whether enough credentials exist to archive passes.
func (c Config) R2Enabled() bool {
	return c.R2.AccountID != "" && c.R2.AccessKeyID != "" && c.R2.AccessKeySecret != "" && c.R2.Bucket != ""
}

type configFile struct {
	Rewards struct {
		SignupBonusCents    int64  `yaml:"signup_bonus_cents"`
		ReferrerRewardCents int64  `yaml:"referrer_reward_cents"`
		Currency            string `yaml:"currency"`
	} `yaml:"rewards"`
	Referral struct {
		BaseURL    string `yaml:"base_url"`
		CodeLength int    `yaml:"code_length"`
	} `yaml:"referral"`
	Wallet struct {
		OrganizationName string `yaml:"organization_name"`
		Description      string `yaml:"description"`
		BackgroundColor  string `yaml:"background_color"`
		ForegroundColor  string `yaml:"foreground_color"`
		AssetsDir        string `yaml:"assets_dir"`
	} `yaml:"wallet"`
	Schedule struct {
		ReconcileMinutes    int `yaml:"reconcile_minutes"`
		BalanceSyncMinutes  int `yaml:"balance_sync_minutes"`
		CustomerSyncMinutes int `yaml:"customer_sync_minutes"`
	} `yaml:"schedule"`
}

// Defaults returns the built-in configuration before any file or env overrides.
func Defaults() Config {
	return Config{
		AppEnv:         EnvDevelopment,
		Port:           "5200",
		AllowedOrigins: []string{"http://localhost:3000"},
		Square: SquareConfig{
			Environment:          "production",
			APIVersion:           "2024-10-17",
			ReferralAttributeKey: "referral_code",
		},
		Rewards: RewardConfig{
			SignupBonusCents:    1000,
			ReferrerRewardCents: 1000,
			Currency:            "USD",
		},
		Referral: ReferralConfig{
			BaseURL:     "http://localhost:3000",
			CodeLength:  8,
			ClickNodeID: 1,
		},
		Wallet: WalletConfig{
			OrganizationName: "Salon Rewards",
			Description:      "Salon gift card",
			AssetsDir:        "./assets/wallet",
			BackgroundColor:  "rgb(24,24,27)",
			ForegroundColor:  "rgb(250,250,250)",
		},
		Schedule: ScheduleConfig{
			ReconcileInterval:    60 * time.Minute,
			BalanceSyncInterval:  15 * time.Minute,
			CustomerSyncInterval: 60 * time.Minute,
		},
	}
}

// Load reads .env (optional), the YAML file at CONFIG_FILE (optional) and finally
// the process environment, in increasing order of precedence.
func Load() (Config, error) {
	dotEnvErr := godotenv.Load()

	cfg := Defaults()
	cfg.DotEnvLoaded = dotEnvErr == nil
	path := envString("CONFIG_FILE", "config.yaml")
	if raw, err := os.ReadFile(path); err == nil {
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if cfg.Referral.CodeLength < 6 {
		cfg.Referral.CodeLength = 6
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}
	if f.Rewards.SignupBonusCents > 0 {
		cfg.Rewards.SignupBonusCents = f.Rewards.SignupBonusCents
	}
	if f.Rewards.ReferrerRewardCents > 0 {
		cfg.Rewards.ReferrerRewardCents = f.Rewards.ReferrerRewardCents
	}
	if f.Rewards.Currency != "" {
		cfg.Rewards.Currency = strings.ToUpper(f.Rewards.Currency)
	}
	if f.Referral.BaseURL != "" {
		cfg.Referral.BaseURL = f.Referral.BaseURL
	}
	if f.Referral.CodeLength > 0 {
		cfg.Referral.CodeLength = f.Referral.CodeLength
	}
	if f.Wallet.OrganizationName != "" {
		cfg.Wallet.OrganizationName = f.Wallet.OrganizationName
	}
	if f.Wallet.Description != "" {
		cfg.Wallet.Description = f.Wallet.Description
	}
	if f.Wallet.BackgroundColor != "" {
		cfg.Wallet.BackgroundColor = f.Wallet.BackgroundColor
	}
	if f.Wallet.ForegroundColor != "" {
		cfg.Wallet.ForegroundColor = f.Wallet.ForegroundColor
	}
	if f.Wallet.AssetsDir != "" {
		cfg.Wallet.AssetsDir = f.Wallet.AssetsDir
	}
	if f.Schedule.ReconcileMinutes > 0 {
		cfg.Schedule.ReconcileInterval = time.Duration(f.Schedule.ReconcileMinutes) * time.Minute
	}
	if f.Schedule.BalanceSyncMinutes > 0 {
		cfg.Schedule.BalanceSyncInterval = time.Duration(f.Schedule.BalanceSyncMinutes) * time.Minute
	}
	if f.Schedule.CustomerSyncMinutes > 0 {
		cfg.Schedule.CustomerSyncInterval = time.Duration(f.Schedule.CustomerSyncMinutes) * time.Minute
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.AppEnv = strings.ToLower(envString("APP_ENV", cfg.AppEnv))
	cfg.Port = envString("PORT", cfg.Port)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	cfg.Square.AccessToken = envString("SQUARE_ACCESS_TOKEN", cfg.Square.AccessToken)
	cfg.Square.Environment = strings.ToLower(envString("SQUARE_ENVIRONMENT", cfg.Square.Environment))
	cfg.Square.APIVersion = envString("SQUARE_API_VERSION", cfg.Square.APIVersion)
	cfg.Square.LocationID = envString("SQUARE_LOCATION_ID", cfg.Square.LocationID)
	cfg.Square.WebhookSignatureKey = envString("SQUARE_WEBHOOK_SIGNATURE_KEY", cfg.Square.WebhookSignatureKey)
	cfg.Square.WebhookNotificationURL = envString("SQUARE_WEBHOOK_NOTIFICATION_URL", cfg.Square.WebhookNotificationURL)
	cfg.Square.ReferralAttributeKey = envString("SQUARE_REFERRAL_ATTRIBUTE_KEY", cfg.Square.ReferralAttributeKey)

	cfg.Rewards.SignupBonusCents = envInt64("SIGNUP_BONUS_CENTS", cfg.Rewards.SignupBonusCents)
	cfg.Rewards.ReferrerRewardCents = envInt64("REFERRER_REWARD_CENTS", cfg.Rewards.ReferrerRewardCents)
	cfg.Rewards.Currency = strings.ToUpper(envString("REWARD_CURRENCY", cfg.Rewards.Currency))

	cfg.Referral.BaseURL = strings.TrimRight(envString("REFERRAL_BASE_URL", cfg.Referral.BaseURL), "/")
	cfg.Referral.IPHashSalt = envString("IP_HASH_SALT", cfg.Referral.IPHashSalt)
	cfg.Referral.ClickNodeID = envInt64("CLICK_NODE_ID", cfg.Referral.ClickNodeID)

	cfg.Admin.APIKey = envString("ADMIN_API_KEY", cfg.Admin.APIKey)

	cfg.Email.SendGridAPIKey = envString("SENDGRID_API_KEY", cfg.Email.SendGridAPIKey)
	cfg.Email.FromEmail = envString("SENDGRID_FROM_EMAIL", cfg.Email.FromEmail)
	cfg.Email.FromName = envString("SENDGRID_FROM_NAME", cfg.Email.FromName)
	cfg.Email.Disabled = envBool("DISABLE_EMAIL_SENDING", cfg.Email.Disabled)

	cfg.Wallet.PassTypeIdentifier = envString("WALLET_PASS_TYPE_IDENTIFIER", cfg.Wallet.PassTypeIdentifier)
	cfg.Wallet.TeamIdentifier = envString("WALLET_TEAM_IDENTIFIER", cfg.Wallet.TeamIdentifier)
	cfg.Wallet.OrganizationName = envString("WALLET_ORGANIZATION_NAME", cfg.Wallet.OrganizationName)
	cfg.Wallet.WebServiceURL = strings.TrimRight(envString("WALLET_WEB_SERVICE_URL", cfg.Wallet.WebServiceURL), "/")
	cfg.Wallet.CertPEMBase64 = envString("WALLET_CERT_PEM_BASE64", cfg.Wallet.CertPEMBase64)
	cfg.Wallet.KeyPEMBase64 = envString("WALLET_KEY_PEM_BASE64", cfg.Wallet.KeyPEMBase64)
	cfg.Wallet.CertP12Base64 = envString("WALLET_CERT_P12_BASE64", cfg.Wallet.CertP12Base64)
	cfg.Wallet.CertPassword = envString("WALLET_CERT_PASSWORD", cfg.Wallet.CertPassword)
	cfg.Wallet.WWDRPEMBase64 = envString("WALLET_WWDR_PEM_BASE64", cfg.Wallet.WWDRPEMBase64)
	cfg.Wallet.AssetsDir = envString("WALLET_ASSETS_DIR", cfg.Wallet.AssetsDir)
	cfg.Wallet.TokenSecret = envString("WALLET_TOKEN_SECRET", cfg.Wallet.TokenSecret)
	cfg.Wallet.APNSProduction = envBool("APNS_PRODUCTION", cfg.Wallet.APNSProduction)

	cfg.R2.AccountID = envString("CLOUDFLARE_ACCOUNT_ID", cfg.R2.AccountID)
	cfg.R2.AccessKeyID = envString("R2_ACCESS_KEY_ID", cfg.R2.AccessKeyID)
	cfg.R2.AccessKeySecret = envString("R2_ACCESS_KEY_SECRET", cfg.R2.AccessKeySecret)
	cfg.R2.Bucket = envString("R2_BUCKET_NAME", cfg.R2.Bucket)
	cfg.R2.CDNBaseURL = envString("CDN_BASE_URL", cfg.R2.CDNBaseURL)

	cfg.Redis.URL = envString("REDIS_URL", cfg.Redis.URL)
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.Kafka.Brokers = splitList(raw)
	}

	cfg.Schedule.ReconcileInterval = envMinutes("RECONCILE_INTERVAL_MINUTES", cfg.Schedule.ReconcileInterval)
	cfg.Schedule.BalanceSyncInterval = envMinutes("BALANCE_SYNC_INTERVAL_MINUTES", cfg.Schedule.BalanceSyncInterval)
	cfg.Schedule.CustomerSyncInterval = envMinutes("CUSTOMER_SYNC_INTERVAL_MINUTES", cfg.Schedule.CustomerSyncInterval)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envString(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}

func envInt64(name string, fallback int64) int64 {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return fallback
}

// envMinutes accepts 0 to disable a job.
func envMinutes(name string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return time.Duration(v) * time.Minute
		}
	}
	return fallback
}
