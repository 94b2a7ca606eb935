package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_marketplace/internal/domain"
)

var (
	ErrEmptyCart              = errors.New("cart is empty, nothing to checkout")
	ErrStaleCart              = errors.New("cart has lines that can no longer be bought")
	ErrUnknownShippingTier    = errors.New("unknown shipping tier")
	ErrIllegalTransition      = errors.New("illegal transition of checkout status")
	ErrPaymentFailed          = errors.New("payment failed")
	ErrMissingIdempotencyKey  = errors.New("idempotency key is required")
	ErrRevalidationIncomplete = errors.New("listing availability could not be verified")
	ErrSaleRejected           = errors.New("sold listings could not be taken from the catalog, payment refunded")
)

// StaleLine is a cart line whose listing cannot cover the requested quantity.
type StaleLine struct {
	Key       domain.LineKey `json:"key"`
	Requested int            `json:"requested"`
	Available int            `json:"available"`
	Reason    string         `json:"reason"`
}

type StaleCartError struct {
	Lines []StaleLine
}

func (e *StaleCartError) Error() string {
	ids := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		ids[i] = fmt.Sprintf("%s (%s)", l.Key, l.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrStaleCart, strings.Join(ids, ", "))
}

func (e *StaleCartError) Unwrap() error {
	return ErrStaleCart
}
