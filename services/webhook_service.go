// services/webhook_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

// WebhookOutcome is what happened to one verified delivery. The HTTP layer
// acknowledges every outcome with 200.
type WebhookOutcome struct {
	EventID   string
	EventType string
	Status    models.ProcessStatus
	Err       error
}

// WebhookService verifies, dedupes and dispatches Square deliveries.
type WebhookService struct {
	DB        *gorm.DB
	Verifier  *WebhookVerifier
	Deduper   EventDeduper
	Referrals *ReferralService
	Mirrors   *MirrorService
	Wallet    *WalletService
	Publisher EventPublisher
	Log       *zap.Logger
}

func NewWebhookService(db *gorm.DB, verifier *WebhookVerifier, deduper EventDeduper, referrals *ReferralService,
	mirrors *MirrorService, wallet *WalletService, publisher EventPublisher, log *zap.Logger) *WebhookService {
	return &WebhookService{
		DB:        db,
		Verifier:  verifier,
		Deduper:   deduper,
		Referrals: referrals,
		Mirrors:   mirrors,
		Wallet:    wallet,
		Publisher: publisher,
		Log:       log,
	}
}

// Handle returns an error only when the signature does not verify. Every
// other failure is logged, recorded and reported on the operator channel.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (WebhookOutcome, error) {
	if err := s.Verifier.Verify(body, signature); err != nil {
		s.Log.Warn("[WEBHOOK] rejected delivery", zap.Error(err))
		return WebhookOutcome{}, err
	}

	started := time.Now()
	event, err := DecodeEvent(body)
	if err != nil {
		out := WebhookOutcome{EventType: "malformed", Status: models.ProcessStatusFailed, Err: err}
		s.finish(ctx, out, started)
		return out, nil
	}
	meta := event.Meta()
	out := WebhookOutcome{EventID: meta.ID, EventType: meta.Type}

	if s.Deduper != nil {
		first, err := s.Deduper.Claim(ctx, meta, body)
		if err != nil {
			// Dedupe store down: process anyway, the attribution guards still hold.
			s.Log.Warn("[WEBHOOK] dedupe unavailable", zap.String("event", meta.ID), zap.Error(err))
		} else if !first {
			out.Status = models.ProcessStatusDuplicate
			s.finish(ctx, out, started)
			return out, nil
		}
	}

	if _, ok := event.(UnrecognizedEvent); ok {
		out.Status = models.ProcessStatusIgnored
		s.finish(ctx, out, started)
		return out, nil
	}

	if err := s.dispatchSafely(ctx, event); err != nil {
		out.Status, out.Err = models.ProcessStatusFailed, err
		if s.Deduper != nil {
			if rerr := s.Deduper.Release(ctx, meta.ID); rerr != nil {
				s.Log.Warn("[WEBHOOK] could not release event id", zap.String("event", meta.ID), zap.Error(rerr))
			}
		}
	} else {
		out.Status = models.ProcessStatusSucceeded
	}
	s.finish(ctx, out, started)
	return out, nil
}

func (s *WebhookService) dispatchSafely(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("[WEBHOOK] handler panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.Dispatch(ctx, event)
}

// Dispatch routes a decoded event to its handler.
func (s *WebhookService) Dispatch(ctx context.Context, event Event) error {
	switch ev := event.(type) {
	case CustomerEvent:
		if ev.Type == EventCustomerCreated {
			return s.Referrals.HandleCustomerCreated(ctx, ev.MerchantID, ev.Customer)
		}
		return s.Referrals.HandleCustomerUpdated(ctx, ev.MerchantID, ev.Customer)

	case CustomerAttributeEvent:
		return s.Referrals.HandleCustomerAttribute(ctx, ev.MerchantID, ev.CustomerID, ev.Key, ev.Value)

	case PaymentEvent:
		if err := s.Mirrors.UpsertPayment(ctx, ev.MerchantID, ev.Payment, ev.Object); err != nil {
			return err
		}
		_, err := s.Referrals.HandlePayment(ctx, ev.MerchantID, ev.Payment)
		return err

	case OrderEvent:
		return s.Mirrors.UpsertOrderRef(ctx, ev.MerchantID, ev.Order, ev.Object)

	case BookingEvent:
		return s.Mirrors.UpsertBooking(ctx, ev.MerchantID, ev.Booking, ev.Object)

	case GiftCardEvent:
		if s.Wallet == nil {
			return nil
		}
		return s.Wallet.ApplyBalance(ctx, ev.GiftCardID, ev.GAN, ev.Balance)

	case UnrecognizedEvent:
		return nil
	}
	return fmt.Errorf("no handler for %T", event)
}

func (s *WebhookService) finish(ctx context.Context, out WebhookOutcome, started time.Time) {
	finished := time.Now()
	run := models.ProcessRun{
		ProcessType: out.EventType,
		Status:      out.Status,
		ReferenceID: out.EventID,
		StartedAt:   started,
		FinishedAt:  finished,
		DurationMS:  finished.Sub(started).Milliseconds(),
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	if err := s.DB.WithContext(ctx).Create(&run).Error; err != nil {
		s.Log.Warn("[WEBHOOK] could not record process run", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("event", out.EventID),
		zap.String("type", out.EventType),
		zap.String("status", string(out.Status)),
		zap.Int64("duration_ms", run.DurationMS),
	}
	if out.Status != models.ProcessStatusFailed {
		s.Log.Info("[WEBHOOK] processed", fields...)
		return
	}

	s.Log.Error("[WEBHOOK] handler failed", append(fields, zap.Error(out.Err))...)
	publishQuietly(ctx, s.Publisher, s.Log, TopicWebhookHandlerFailed, out.EventID, map[string]any{
		"event_id":   out.EventID,
		"event_type": out.EventType,
		"error":      out.Err.Error(),
		"malformed":  errors.Is(out.Err, ErrMalformedEvent),
	})
}
