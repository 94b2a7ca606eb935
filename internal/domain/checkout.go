package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ShippingTier string

const (
	ShippingStandard ShippingTier = "standard"
	ShippingExpress  ShippingTier = "express"
	ShippingPriority ShippingTier = "priority"
)

func ParseShippingTier(s string) (ShippingTier, error) {
	switch ShippingTier(s) {
	case ShippingStandard, ShippingExpress, ShippingPriority:
		return ShippingTier(s), nil
	default:
		return "", fmt.Errorf("unknown shipping tier %q", s)
	}
}

// CheckoutBreakdown is the payable unit for one seller; the payment boundary turns
// each breakdown into one payment intent.
type CheckoutBreakdown struct {
	SellerID     string          `json:"seller_id"`
	SellerName   string          `json:"seller_name"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Shipping     decimal.Decimal `json:"shipping"`
	ShippingTier ShippingTier    `json:"shipping_tier,omitempty"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	Items        []CartLineItem  `json:"items"`
}

type CheckoutStatus string

const (
	CheckoutStatusInitiated         CheckoutStatus = "INITIATED"
	CheckoutStatusInventoryReserved CheckoutStatus = "INVENTORY_RESERVED"
	CheckoutStatusPaymentPending    CheckoutStatus = "PAYMENT_PENDING"
	CheckoutStatusPaymentCompleted  CheckoutStatus = "PAYMENT_COMPLETED"
	CheckoutStatusCompleted         CheckoutStatus = "COMPLETED"
	CheckoutStatusFailed            CheckoutStatus = "FAILED"
)

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusFailed
}

func (s CheckoutStatus) String() string {
	return string(s)
}

var transitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusInitiated:         {CheckoutStatusInventoryReserved, CheckoutStatusFailed},
	CheckoutStatusInventoryReserved: {CheckoutStatusPaymentPending, CheckoutStatusFailed},
	CheckoutStatusPaymentPending:    {CheckoutStatusPaymentCompleted, CheckoutStatusFailed},
	CheckoutStatusPaymentCompleted:  {CheckoutStatusCompleted, CheckoutStatusFailed},
}

func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentIntent struct {
	ID       string          `json:"id"`
	SellerID string          `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

type CheckoutSession struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	Status         CheckoutStatus      `json:"status"`
	CartSnapshot   CartState           `json:"cart_snapshot"`
	Breakdowns     []CheckoutBreakdown `json:"breakdowns"`
	ReservationID  string              `json:"reservation_id,omitempty"`
	Payments       []PaymentIntent     `json:"payments,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

const EventCheckoutCompleted = "checkout.completed"

// CheckoutCompletedEvent is the outbox payload published once a checkout completes.
type CheckoutCompletedEvent struct {
	CheckoutID  string              `json:"checkout_id"`
	UserID      string              `json:"user_id"`
	Breakdowns  []CheckoutBreakdown `json:"breakdowns"`
	Payments    []PaymentIntent     `json:"payments"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	Currency    string              `json:"currency"`
	CompletedAt time.Time           `json:"completed_at"`
}

// NewCheckoutCompletedEvent builds the event of a completed session. TotalAmount is the
// sum of the amounts charged, so it always matches the payment intents.
func NewCheckoutCompletedEvent(s CheckoutSession, completedAt time.Time) CheckoutCompletedEvent {
	total := decimal.Zero
	for _, p := range s.Payments {
		total = total.Add(p.Amount)
	}
	if len(s.Payments) == 0 {
		for _, b := range s.Breakdowns {
			total = total.Add(RoundMoney(b.Total))
		}
	}
	return CheckoutCompletedEvent{
		CheckoutID:  s.ID,
		UserID:      s.UserID,
		Breakdowns:  s.Breakdowns,
		Payments:    s.Payments,
		TotalAmount: total,
		Currency:    Currency,
		CompletedAt: completedAt,
	}
}
