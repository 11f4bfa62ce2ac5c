// services/notification_service.go
package services

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"salon-referral-system/config"
	"salon-referral-system/models"
)

// Notifier sends customer-facing messages. The bool result reports whether a
// message actually left the process; disabled delivery returns false, nil.
type Notifier interface {
	SendReferralCode(ctx context.Context, c models.Customer) (bool, error)
	SendRewardIssued(ctx context.Context, c models.Customer, r models.GiftCardReward) (bool, error)
}

type NotificationService struct {
	Config config.EmailConfig
	Log    *zap.Logger
	client *sendgrid.Client
}

func NewNotificationService(cfg config.EmailConfig, log *zap.Logger) *NotificationService {
	s := &NotificationService{Config: cfg, Log: log}
	if cfg.SendGridAPIKey != "" {
		s.client = sendgrid.NewSendClient(cfg.SendGridAPIKey)
	}
	return s
}

func (s *NotificationService) enabled(to string) bool {
	if s.Config.Disabled {
		s.Log.Info("[EMAIL] sending disabled, skipping", zap.String("to", to))
		return false
	}
	if s.client == nil || s.Config.FromEmail == "" {
		s.Log.Warn("[EMAIL] sendgrid not configured, skipping", zap.String("to", to))
		return false
	}
	if to == "" {
		return false
	}
	return true
}

func (s *NotificationService) SendReferralCode(ctx context.Context, c models.Customer) (bool, error) {
	if !s.enabled(c.Email) {
		return false, nil
	}
	subject, text, body := referralCodeEmail(c)
	return s.send(ctx, c, subject, text, body)
}

func (s *NotificationService) SendRewardIssued(ctx context.Context, c models.Customer, r models.GiftCardReward) (bool, error) {
	if !s.enabled(c.Email) {
		return false, nil
	}
	subject, text, body := rewardEmail(c, r)
	return s.send(ctx, c, subject, text, body)
}

// Square profile fields are customer-controlled; everything interpolated into
// the HTML part is escaped.
func referralCodeEmail(c models.Customer) (subject, text, body string) {
	name := DisplayName(c.GivenName, "")
	subject = "Your referral code is ready"
	text = fmt.Sprintf("Hi %s,\n\nThanks for visiting! Share your code %s with friends: %s\n"+
		"They get a gift card on their first visit and so do you.\n", name, c.Code(), c.ReferralURL)
	link := html.EscapeString(c.ReferralURL)
	body = fmt.Sprintf("<p>Hi %s,</p><p>Thanks for visiting! Share your code <strong>%s</strong> with friends:</p>"+
		"<p><a href=\"%s\">%s</a></p><p>They get a gift card on their first visit and so do you.</p>",
		html.EscapeString(name), html.EscapeString(c.Code()), link, link)
	return subject, text, body
}

func rewardEmail(c models.Customer, r models.GiftCardReward) (subject, text, body string) {
	name := DisplayName(c.GivenName, "")
	amount := FormatMoney(r.AmountCents, r.Currency)

	var line string
	switch r.RewardType {
	case models.RewardTypeFriendSignupBonus:
		subject = "Welcome gift added to your card"
		line = "%s has been loaded onto your gift card (%s) as a welcome bonus."
	default:
		subject = "Your referral just paid off"
		line = "A friend you referred completed their first visit. %s has been added to your gift card (%s)."
	}
	text = fmt.Sprintf("Hi %s,\n\n"+line+"\n", name, amount, r.GiftCardGAN)
	body = fmt.Sprintf("<p>Hi %s,</p><p>"+line+"</p>",
		html.EscapeString(name), html.EscapeString(amount), html.EscapeString(r.GiftCardGAN))
	return subject, text, body
}

func (s *NotificationService) send(ctx context.Context, c models.Customer, subject, text, body string) (bool, error) {
	from := mail.NewEmail(s.Config.FromName, s.Config.FromEmail)
	to := mail.NewEmail(DisplayName(c.GivenName, c.FamilyName), c.Email)
	msg := mail.NewSingleEmail(from, subject, to, text, body)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	s.Log.Info("[EMAIL] sent", zap.String("to", c.Email), zap.String("subject", subject))
	return true, nil
}
