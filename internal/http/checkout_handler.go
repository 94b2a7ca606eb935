package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/internal/checkout"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CheckoutService is implemented by checkout.Service.
type CheckoutService interface {
	Quote(ctx context.Context, userID string, tiers map[string]domain.ShippingTier, opts checkout.TotalOptions) (checkout.Quote, error)
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
	Session(ctx context.Context, userID, checkoutID string) (checkout.Result, error)
}

type CheckoutHandler struct {
	checkouts CheckoutService
	timeout   time.Duration
	log       *zap.Logger
}

// NewCheckoutHandler takes a timeout that must cover revalidation and one payment
// call per seller.
func NewCheckoutHandler(checkouts CheckoutService, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{
		checkouts: checkouts,
		timeout:   timeout,
		log:       log,
	}
}

func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req QuoteRequestDTO
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	tiers, err := parseShipping(req.Shipping)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	opts := checkout.DefaultTotalOptions()
	if req.IncludeShipping != nil {
		opts.IncludeShipping = *req.IncludeShipping
	}
	if req.IncludeTax != nil {
		opts.IncludeTax = *req.IncludeTax
	}

	quote, err := h.checkouts.Quote(ctx, userID, tiers, opts)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, QuoteDTO{
		Breakdowns: toBreakdownDTOs(quote.Breakdowns),
		Totals:     toTotalsDTO(quote.Totals),
	})
}

func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CheckoutRequestDTO
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	tiers, err := parseShipping(req.Shipping)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	res, err := h.checkouts.Checkout(ctx, checkout.Request{
		UserID:         userID,
		IdempotencyKey: req.IdempotencyKey,
		Shipping:       tiers,
	})
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, toCheckoutDTO(res))
}

func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.checkouts.Session(ctx, userID, chi.URLParam(r, "checkout_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCheckoutDTO(res))
}

// decodeOptional decodes a JSON body into v. A missing body, with or without a
// Content-Length, leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
