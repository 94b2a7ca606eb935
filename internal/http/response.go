package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/checkout"
	"github.com/fjod/go_marketplace/internal/checkout/repository"
	"github.com/fjod/go_marketplace/internal/inventory"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/fjod/go_marketplace/pkg/logger"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error      string               `json:"error"`
	Code       string               `json:"code,omitempty"`
	Details    string               `json:"details,omitempty"`
	StaleLines []checkout.StaleLine `json:"stale_lines,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first target matched with errors.Is wins.
var errorMappings = []errorMapping{
	{cart.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{cart.ErrInvalidItem, http.StatusBadRequest, "invalid_item"},
	{cart.ErrListingMismatch, http.StatusBadRequest, "listing_mismatch"},
	{listing.ErrInvalidSortKey, http.StatusBadRequest, "invalid_sort"},
	{listing.ErrInvalidFilterArgument, http.StatusBadRequest, "invalid_filter"},
	{checkout.ErrUnknownShippingTier, http.StatusBadRequest, "invalid_shipping_tier"},
	{checkout.ErrMissingIdempotencyKey, http.StatusBadRequest, "missing_idempotency_key"},
	// wraps the catalog error that rejected the sale
	{checkout.ErrSaleRejected, http.StatusConflict, "sale_rejected"},
	{cart.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{listing.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{listing.ErrListingNotFound, http.StatusNotFound, "listing_not_found"},
	{listing.ErrSellerNotFound, http.StatusNotFound, "seller_not_found"},
	{repository.ErrSessionNotFound, http.StatusNotFound, "checkout_not_found"},
	{cart.ErrListingUnavailable, http.StatusConflict, "listing_unavailable"},
	{checkout.ErrStaleCart, http.StatusConflict, "stale_cart"},
	{inventory.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{inventory.ErrStaleStockRead, http.StatusConflict, "stock_read_expired"},
	{checkout.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{payment.ErrDeclined, http.StatusPaymentRequired, "payment_declined"},
	{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable, "payment_unavailable"},
	{checkout.ErrRevalidationIncomplete, http.StatusServiceUnavailable, "availability_unknown"},
	{checkout.ErrPaymentFailed, http.StatusBadGateway, "payment_failed"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// handleError maps domain errors to HTTP statuses. Unknown errors are logged and
// reported as internal errors without their message.
func handleError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := ErrorResponse{Error: err.Error(), Code: m.code}
		var stale *checkout.StaleCartError
		if errors.As(err, &stale) {
			resp.Error = "some cart lines can no longer be bought"
			resp.StaleLines = stale.Lines
		}
		respondJSON(w, m.status, resp)
		return
	}

	logger.WithContext(r.Context(), log).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
