// services/click_service.go
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

// ClickRequest is the body posted by the landing page.
type ClickRequest struct {
	RefCode     string          `json:"refCode"`
	RefSID      string          `json:"refSid"`
	UserAgent   string          `json:"userAgent"`
	LandingURL  string          `json:"landingUrl"`
	UTMSource   string          `json:"utmSource"`
	UTMMedium   string          `json:"utmMedium"`
	UTMCampaign string          `json:"utmCampaign"`
	FirstSeenAt json.RawMessage `json:"firstSeenAt"`
}

type ClickService struct {
	DB   *gorm.DB
	Node *snowflake.Node
	Salt string
	Log  *zap.Logger
}

// NewClickService needs a nodeID unique per running instance so click ids
// never collide.
func NewClickService(db *gorm.DB, salt string, nodeID int64, log *zap.Logger) (*ClickService, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &ClickService{DB: db, Node: node, Salt: salt, Log: log}, nil
}

// HashIP never stores the address itself.
func HashIP(salt, ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(sum[:])
}

// Track stores one click. Clicks are append-only.
func (s *ClickService) Track(ctx context.Context, req ClickRequest, ip, fallbackUserAgent string) (*models.ReferralClick, error) {
	code := NormalizeCode(req.RefCode)
	if code == "" {
		return nil, fmt.Errorf("%w: refCode required", ErrInvalidInput)
	}
	code = truncate(code, 32)
	ua := req.UserAgent
	if ua == "" {
		ua = fallbackUserAgent
	}
	click := models.ReferralClick{
		ID:          s.Node.Generate().String(),
		RefCode:     code,
		RefSID:      req.RefSID,
		IPHash:      HashIP(s.Salt, ip),
		UserAgent:   truncate(ua, 512),
		LandingURL:  truncate(req.LandingURL, 2048),
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		FirstSeenAt: parseFirstSeen(req.FirstSeenAt),
	}
	if err := s.DB.WithContext(ctx).Create(&click).Error; err != nil {
		return nil, fmt.Errorf("store click: %w", err)
	}
	s.Log.Debug("[CLICK] tracked", zap.String("click", click.ID), zap.String("code", code))
	return &click, nil
}

// parseFirstSeen accepts an RFC 3339 string or epoch milliseconds.
func parseFirstSeen(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC()
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t := parseSquareTime(s); t != nil {
			return *t
		}
	}
	return time.Now().UTC()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
