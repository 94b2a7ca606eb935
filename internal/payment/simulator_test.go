package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRoller struct {
	v     int
	calls int
}

func (f *fixedRoller) Roll() int {
	f.calls++
	return f.v
}

func TestCalcOutcome(t *testing.T) {
	tests := []struct {
		name    string
		v       int
		ok      bool
		refusal Refusal
		reason  string
	}{
		{name: "success", v: 10, ok: true},
		{name: "success upper bound", v: 94, ok: true},
		{name: "failed unknown", v: 95, reason: "unknown reason"},
		{name: "insufficient funds", v: 96, refusal: RefusalInsufficientFunds},
		{name: "limit exceeded", v: 100, refusal: RefusalLimitExceeded},
		{name: "out of range", v: 101, reason: "unknown reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, refusal, reason := calcOutcome(tt.v)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.refusal, refusal)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSimulator_CreateIntent(t *testing.T) {
	sim := NewSimulator(&fixedRoller{v: 1})

	intent, err := sim.CreateIntent(context.Background(), IntentRequest{
		CheckoutID: "co-1",
		SellerID:   "s1",
		Amount:     decimal.RequireFromString("57.9584"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, "s1", intent.SellerID)
	assert.Equal(t, "57.96", domain.FormatMoney(intent.Amount))
	assert.Equal(t, domain.Currency, intent.Currency)
	assert.Equal(t, IntentSucceeded, intent.Status)
}

func TestSimulator_IdempotencyKey(t *testing.T) {
	roller := &fixedRoller{v: 1}
	sim := NewSimulator(roller)
	req := IntentRequest{SellerID: "s1", Amount: decimal.NewFromInt(10), IdempotencyKey: IntentKey("k", "s1")}

	first, err := sim.CreateIntent(context.Background(), req)
	require.NoError(t, err)
	second, err := sim.CreateIntent(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, roller.calls)
}

func TestSimulator_Declined(t *testing.T) {
	sim := NewSimulator(&fixedRoller{v: 97})

	_, err := sim.CreateIntent(context.Background(), IntentRequest{SellerID: "s2", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrDeclined)

	var decline *DeclineError
	require.True(t, errors.As(err, &decline))
	assert.Equal(t, RefusalCardExpired, decline.Refusal)
	assert.Equal(t, "s2", decline.SellerID)
}

func TestSimulator_InvalidAmount(t *testing.T) {
	sim := NewSimulator(&fixedRoller{v: 1})

	_, err := sim.CreateIntent(context.Background(), IntentRequest{SellerID: "s1", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSimulator_Refund(t *testing.T) {
	sim := NewSimulator(&fixedRoller{v: 1})
	intent, err := sim.CreateIntent(context.Background(), IntentRequest{SellerID: "s1", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	require.NoError(t, sim.Refund(context.Background(), intent.ID))
	assert.Equal(t, IntentRefunded, sim.intents[intent.ID].Status)
	assert.ErrorIs(t, sim.Refund(context.Background(), "pi_missing"), ErrIntentNotFound)
}

type failingGateway struct {
	err   error
	calls int
}

func (f *failingGateway) CreateIntent(context.Context, IntentRequest) (domain.PaymentIntent, error) {
	f.calls++
	return domain.PaymentIntent{}, f.err
}

func (f *failingGateway) Refund(context.Context, string) error {
	return f.err
}

func TestBreakerGateway_DeclinesKeepBreakerClosed(t *testing.T) {
	next := &failingGateway{err: &DeclineError{SellerID: "s1", Refusal: RefusalCardBlocked}}
	gw := NewBreakerGateway(next, circuitbreaker.Settings{Name: "payments", MaxFailures: 1, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		_, err := gw.CreateIntent(context.Background(), IntentRequest{SellerID: "s1", Amount: decimal.NewFromInt(1)})
		require.ErrorIs(t, err, ErrDeclined)
	}
	assert.Equal(t, 3, next.calls)
}

func TestBreakerGateway_OpensOnOutage(t *testing.T) {
	next := &failingGateway{err: errors.New("connection refused")}
	gw := NewBreakerGateway(next, circuitbreaker.Settings{Name: "payments", MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, err := gw.CreateIntent(context.Background(), IntentRequest{SellerID: "s1", Amount: decimal.NewFromInt(1)})
		require.Error(t, err)
	}

	_, err := gw.CreateIntent(context.Background(), IntentRequest{SellerID: "s1", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, 2, next.calls)
}
