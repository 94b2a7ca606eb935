package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/metrics"
	"github.com/fjod/go_marketplace/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerGateway guards a Gateway with a circuit breaker. Declines are business
// outcomes and never open the breaker.
type BreakerGateway struct {
	next    Gateway
	intents *gobreaker.CircuitBreaker[domain.PaymentIntent]
	refunds *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerGateway(next Gateway, s circuitbreaker.Settings, log *zap.Logger) *BreakerGateway {
	s.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrDeclined) || errors.Is(err, ErrInvalidAmount)
	}
	refundSettings := s
	refundSettings.Name = s.Name + "-refund"
	return &BreakerGateway{
		next:    next,
		intents: circuitbreaker.New[domain.PaymentIntent](s, log),
		refunds: circuitbreaker.New[struct{}](refundSettings, log),
	}
}

func (g *BreakerGateway) CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error) {
	intent, err := g.intents.Execute(func() (domain.PaymentIntent, error) {
		return g.next.CreateIntent(ctx, req)
	})
	switch {
	case err == nil:
		metrics.PaymentIntents.WithLabelValues("succeeded").Inc()
	case errors.Is(err, ErrDeclined):
		metrics.PaymentIntents.WithLabelValues("declined").Inc()
	case isBreakerOpen(err):
		metrics.PaymentIntents.WithLabelValues("rejected").Inc()
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	default:
		metrics.PaymentIntents.WithLabelValues("error").Inc()
	}
	return intent, err
}

func (g *BreakerGateway) Refund(ctx context.Context, intentID string) error {
	_, err := g.refunds.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.Refund(ctx, intentID)
	})
	if isBreakerOpen(err) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return err
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
