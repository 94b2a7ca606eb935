package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/payment"
	"go.uber.org/zap"
)

// processPayments creates one intent per seller breakdown. When any intent fails the
// intents already created are refunded.
func (s *Service) processPayments(ctx context.Context, log *zap.Logger, session *domain.CheckoutSession, key string) error {
	if err := s.transition(ctx, session, domain.CheckoutStatusPaymentPending); err != nil {
		return err
	}

	payments := make([]domain.PaymentIntent, 0, len(session.Breakdowns))
	for _, b := range session.Breakdowns {
		intent, err := s.createIntent(ctx, session.ID, key, b)
		if err != nil {
			s.refund(ctx, log, payments)
			return fmt.Errorf("%w: %w", ErrPaymentFailed, err)
		}
		payments = append(payments, intent)
	}

	if !domain.CanTransitionTo(session.Status, domain.CheckoutStatusPaymentCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, session.Status, domain.CheckoutStatusPaymentCompleted)
	}
	if err := s.repo.SetPayments(ctx, session.ID, payments); err != nil {
		s.refund(ctx, log, payments)
		return fmt.Errorf("failed to store payments: %w", err)
	}
	session.Payments = payments
	session.Status = domain.CheckoutStatusPaymentCompleted
	session.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Service) createIntent(ctx context.Context, checkoutID, key string, b domain.CheckoutBreakdown) (domain.PaymentIntent, error) {
	paymentCtx, cancel := context.WithTimeout(ctx, s.timeouts.Payment)
	defer cancel()

	return s.gateway.CreateIntent(paymentCtx, payment.IntentRequest{
		CheckoutID:     checkoutID,
		SellerID:       b.SellerID,
		Amount:         domain.RoundMoney(b.Total),
		Currency:       domain.Currency,
		IdempotencyKey: payment.IntentKey(key, b.SellerID),
	})
}

func (s *Service) refund(ctx context.Context, log *zap.Logger, payments []domain.PaymentIntent) {
	for _, p := range payments {
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Payment)
		err := s.gateway.Refund(refundCtx, p.ID)
		cancel()
		if err != nil {
			log.Error("failed to refund payment intent",
				zap.String("intent_id", p.ID),
				zap.String("seller_id", p.SellerID),
				zap.Error(err),
			)
		}
	}
}
