package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrDeclined           = errors.New("payment declined")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrIntentNotFound     = errors.New("payment intent not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

const (
	IntentSucceeded = "succeeded"
	IntentRefunded  = "refunded"
)

// Refusal is the reason a card issuer gave for a decline.
type Refusal int

const (
	RefusalUnknown Refusal = iota
	RefusalInsufficientFunds
	RefusalCardExpired
	RefusalCardBlocked
	RefusalSuspectedFraud
	RefusalLimitExceeded
)

func (r Refusal) String() string {
	switch r {
	case RefusalInsufficientFunds:
		return "insufficient_funds"
	case RefusalCardExpired:
		return "card_expired"
	case RefusalCardBlocked:
		return "card_blocked"
	case RefusalSuspectedFraud:
		return "suspected_fraud"
	case RefusalLimitExceeded:
		return "limit_exceeded"
	default:
		return "unknown"
	}
}

type DeclineError struct {
	SellerID string
	Refusal  Refusal
	Reason   string
}

func (e *DeclineError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = e.Refusal.String()
	}
	return fmt.Sprintf("%s for seller %s: %s", ErrDeclined, e.SellerID, reason)
}

func (e *DeclineError) Unwrap() error {
	return ErrDeclined
}

// IntentRequest asks for one charge. Amount is already rounded to cents.
type IntentRequest struct {
	CheckoutID     string
	SellerID       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Gateway is the payment boundary. CreateIntent is called once per seller breakdown;
// repeating a call with the same IdempotencyKey returns the original intent.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error)
	Refund(ctx context.Context, intentID string) error
}

// IntentKey derives the per-seller idempotency key of a checkout.
func IntentKey(checkoutKey, sellerID string) string {
	return checkoutKey + ":" + sellerID
}
