package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareListings_Success(t *testing.T) {
	s := newTestServer(t)
	listings := []domain.Listing{
		testListing("l1", "s1", "30", domain.ConditionGood),
		testListing("l2", "s2", "25", domain.ConditionMint),
		testListing("l3", "s3", "28.5", domain.ConditionNearMint),
	}
	s.listings.sel = listing.Select("p1", listings, listing.SortPriceAsc, listing.Filter{})

	rec := s.do(http.MethodGet, "/api/v1/products/p1/listings", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SelectionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "offers", resp.Outcome)
	require.NotNil(t, resp.Best)
	assert.Equal(t, "l2", resp.Best.ID)
	assert.Equal(t, "25.00", resp.Best.Price)
	require.Len(t, resp.Offers, 3)
	assert.Equal(t, []string{"25.00", "28.50", "30.00"},
		[]string{resp.Offers[0].Price, resp.Offers[1].Price, resp.Offers[2].Price})
	assert.Equal(t, listing.DefaultSort, s.listings.gotSort)
}

func TestCompareListings_ParsesFilter(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet,
		"/api/v1/products/p1/listings?sort=rating_desc&condition=mint,near_mint&condition=good&min_price=10&max_price=40.5&verified_only=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	f := s.listings.gotFilter
	assert.Equal(t, listing.SortRatingDesc, s.listings.gotSort)
	assert.Equal(t, []domain.Condition{domain.ConditionMint, domain.ConditionNearMint, domain.ConditionGood}, f.Conditions)
	require.NotNil(t, f.MinPrice)
	require.NotNil(t, f.MaxPrice)
	assert.True(t, f.MinPrice.Equal(dec("10")))
	assert.True(t, f.MaxPrice.Equal(dec("40.5")))
	assert.True(t, f.VerifiedOnly)
}

func TestCompareListings_BadArguments(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"unknown sort", "sort=cheapest", "invalid_sort"},
		{"unknown condition", "condition=scratched", "invalid_filter"},
		{"bad price", "min_price=abc", "invalid_filter"},
		{"negative price", "max_price=-1", "invalid_filter"},
		{"min above max", "min_price=50&max_price=10", "invalid_filter"},
		{"bad bool", "verified_only=maybe", "invalid_filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodGet, "/api/v1/products/p1/listings?"+tt.query, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestCompareListings_UnknownProduct(t *testing.T) {
	s := newTestServer(t)
	s.listings.err = fmt.Errorf("fetch listings for product p9: %w", listing.ErrProductNotFound)

	rec := s.do(http.MethodGet, "/api/v1/products/p9/listings", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "product_not_found", resp.Code)
}

func TestCompareListings_NoOffers(t *testing.T) {
	s := newTestServer(t)
	s.listings.sel = listing.Select("p1", nil, "", listing.Filter{})

	rec := s.do(http.MethodGet, "/api/v1/products/p1/listings", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SelectionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_offers", resp.Outcome)
	assert.Nil(t, resp.Best)
	assert.Empty(t, resp.Offers)
}

func TestBestOffer(t *testing.T) {
	s := newTestServer(t)
	best := testListing("l2", "s2", "25", domain.ConditionMint)
	s.listings.best = &best
	s.listings.outcome = listing.OutcomeOffers

	rec := s.do(http.MethodGet, "/api/v1/products/p1/best-offer", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp BestOfferDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "offers", resp.Outcome)
	require.NotNil(t, resp.Listing)
	assert.Equal(t, "l2", resp.Listing.ID)
}

func TestBestOffer_NoOffers(t *testing.T) {
	s := newTestServer(t)
	s.listings.outcome = listing.OutcomeNoOffers

	rec := s.do(http.MethodGet, "/api/v1/products/p1/best-offer", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp BestOfferDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_offers", resp.Outcome)
	assert.Nil(t, resp.Listing)
}

func TestGetSeller(t *testing.T) {
	s := newTestServer(t)
	s.listings.profile = domain.SellerProfile{SellerID: "s1", StoreName: "Vinyl Vault", IsVerified: true, AverageRating: 4.8}

	rec := s.do(http.MethodGet, "/api/v1/sellers/s1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SellerDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Vinyl Vault", resp.StoreName)
	assert.True(t, resp.IsVerified)
}

func TestGetSeller_NotFound(t *testing.T) {
	s := newTestServer(t)
	s.listings.err = fmt.Errorf("fetch seller s9: %w", listing.ErrSellerNotFound)

	rec := s.do(http.MethodGet, "/api/v1/sellers/s9", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
