package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListingService is the read side used by the listing endpoints. listing.Reader implements it.
type ListingService interface {
	Compare(ctx context.Context, productID string, sortKey listing.SortKey, filter listing.Filter) (listing.Selection, error)
	BestOffer(ctx context.Context, productID string) (*domain.Listing, listing.Outcome, error)
	SellerProfile(ctx context.Context, sellerID string) (domain.SellerProfile, error)
}

type ListingHandler struct {
	listings ListingService
	timeout  time.Duration
	log      *zap.Logger
}

func NewListingHandler(listings ListingService, timeout time.Duration, log *zap.Logger) *ListingHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ListingHandler{
		listings: listings,
		timeout:  timeout,
		log:      log,
	}
}

func (h *ListingHandler) CompareListings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	query := r.URL.Query()

	sortKey, err := listing.ParseSortKey(query.Get("sort"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	filter, err := parseFilter(query)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	sel, err := h.listings.Compare(ctx, productID, sortKey, filter)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toSelectionDTO(sel))
}

func (h *ListingHandler) BestOffer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	best, outcome, err := h.listings.BestOffer(ctx, productID)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	resp := BestOfferDTO{ProductID: productID, Outcome: string(outcome)}
	if best != nil {
		dto := toListingDTO(*best)
		resp.Listing = &dto
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *ListingHandler) GetSeller(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	profile, err := h.listings.SellerProfile(ctx, chi.URLParam(r, "seller_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, SellerDTO{
		SellerID:      profile.SellerID,
		StoreName:     profile.StoreName,
		IsVerified:    profile.IsVerified,
		AverageRating: profile.AverageRating,
	})
}

// parseFilter reads condition (repeated or comma separated), min_price, max_price and
// verified_only from the query string.
func parseFilter(query map[string][]string) (listing.Filter, error) {
	var f listing.Filter

	for _, raw := range query["condition"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			c := domain.Condition(part)
			if !c.Valid() {
				return listing.Filter{}, fmt.Errorf("%w: condition %q", listing.ErrInvalidFilterArgument, part)
			}
			f.Conditions = append(f.Conditions, c)
		}
	}

	var err error
	if f.MinPrice, err = parsePrice(query, "min_price"); err != nil {
		return listing.Filter{}, err
	}
	if f.MaxPrice, err = parsePrice(query, "max_price"); err != nil {
		return listing.Filter{}, err
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return listing.Filter{}, fmt.Errorf("%w: min_price is above max_price", listing.ErrInvalidFilterArgument)
	}

	if v := first(query, "verified_only"); v != "" {
		f.VerifiedOnly, err = strconv.ParseBool(v)
		if err != nil {
			return listing.Filter{}, fmt.Errorf("%w: verified_only %q", listing.ErrInvalidFilterArgument, v)
		}
	}
	return f, nil
}

func parsePrice(query map[string][]string, name string) (*decimal.Decimal, error) {
	v := first(query, name)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("%w: %s %q", listing.ErrInvalidFilterArgument, name, v)
	}
	return &d, nil
}

func first(query map[string][]string, name string) string {
	if vs := query[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
