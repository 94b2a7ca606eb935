package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/google/uuid"
)

// Roller returns a number in [0, 100].
type Roller interface {
	Roll() int
}

type RandomRoller struct{}

func (RandomRoller) Roll() int {
	return rand.Intn(101) // 101 because Intn is exclusive of the upper bound
}

// calcOutcome maps a roll to a charge result: below 95 succeeds, 96..100 is a known
// refusal and everything else fails for an unknown reason.
func calcOutcome(roll int) (bool, Refusal, string) {
	if roll < 95 {
		return true, RefusalUnknown, ""
	}
	other := roll - 95
	if other == 0 || other > 5 {
		return false, RefusalUnknown, "unknown reason"
	}
	return false, Refusal(other), ""
}

// Simulator is an in-process Gateway with a random outcome per new intent.
type Simulator struct {
	roller Roller

	mu      sync.Mutex
	byKey   map[string]domain.PaymentIntent
	intents map[string]*domain.PaymentIntent
}

func NewSimulator(roller Roller) *Simulator {
	if roller == nil {
		roller = RandomRoller{}
	}
	return &Simulator{
		roller:  roller,
		byKey:   make(map[string]domain.PaymentIntent),
		intents: make(map[string]*domain.PaymentIntent),
	}
}

func (s *Simulator) CreateIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if intent, ok := s.byKey[req.IdempotencyKey]; ok {
			return intent, nil
		}
	}

	ok, refusal, reason := calcOutcome(s.roller.Roll())
	if !ok {
		return domain.PaymentIntent{}, &DeclineError{SellerID: req.SellerID, Refusal: refusal, Reason: reason}
	}

	currency := req.Currency
	if currency == "" {
		currency = domain.Currency
	}
	intent := domain.PaymentIntent{
		ID:       "pi_" + uuid.New().String(),
		SellerID: req.SellerID,
		Amount:   domain.RoundMoney(req.Amount),
		Currency: currency,
		Status:   IntentSucceeded,
	}
	stored := intent
	s.intents[intent.ID] = &stored
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = intent
	}
	return intent, nil
}

// Refund always succeeds for a known intent.
func (s *Simulator) Refund(ctx context.Context, intentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[intentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIntentNotFound, intentID)
	}
	intent.Status = IntentRefunded
	return nil
}
