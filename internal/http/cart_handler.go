package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxLineQuantity = 99

// CartService is implemented by cart.Service.
type CartService interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	AddItem(ctx context.Context, userID, productID, listingID string, qty int) (*cart.Cart, error)
	SetQuantity(ctx context.Context, userID string, key domain.LineKey, qty int) (*cart.Cart, error)
	Remove(ctx context.Context, userID string, key domain.LineKey) (*cart.Cart, error)
	Clear(ctx context.Context, userID string) (*cart.Cart, error)
	Contains(ctx context.Context, userID, productID, listingID string) (bool, error)
	GroupBySeller(ctx context.Context, userID string) ([]domain.SellerGroup, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *zap.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *zap.Logger) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	c, err := h.carts.Get(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	c, err := h.carts.AddItem(ctx, userID, req.ProductID, req.ListingID, req.Quantity)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartDTO(c))
}

// UpdateQuantity sets a line's quantity. Zero removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	key, ok := lineKeyFromPath(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	c, err := h.carts.SetQuantity(ctx, userID, key, req.Quantity)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	key, ok := lineKeyFromPath(w, r)
	if !ok {
		return
	}

	c, err := h.carts.Remove(ctx, userID, key)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if _, err := h.carts.Clear(ctx, userID); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) Contains(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	listingID := r.URL.Query().Get("listing_id")

	found, err := h.carts.Contains(ctx, userID, productID, listingID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"contains": found})
}

func (h *CartHandler) GroupBySeller(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	groups, err := h.carts.GroupBySeller(ctx, userID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]SellerGroupDTO{"sellers": toSellerGroupDTOs(groups)})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return "", false
	}
	return userID, true
}

func lineKeyFromPath(w http.ResponseWriter, r *http.Request) (domain.LineKey, bool) {
	kind, err := domain.ParseLineKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_item_kind", err.Error())
		return domain.LineKey{}, false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_item", "item id is required")
		return domain.LineKey{}, false
	}
	return domain.LineKey{Kind: kind, ID: id}, true
}
