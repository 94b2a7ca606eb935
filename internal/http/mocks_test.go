package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/checkout"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/shopspring/decimal"
)

type mockListings struct {
	sel     listing.Selection
	best    *domain.Listing
	outcome listing.Outcome
	profile domain.SellerProfile
	err     error

	gotSort   listing.SortKey
	gotFilter listing.Filter
}

func (m *mockListings) Compare(ctx context.Context, productID string, sortKey listing.SortKey, filter listing.Filter) (listing.Selection, error) {
	m.gotSort = sortKey
	m.gotFilter = filter
	if m.err != nil {
		return listing.Selection{}, m.err
	}
	return m.sel, nil
}

func (m *mockListings) BestOffer(ctx context.Context, productID string) (*domain.Listing, listing.Outcome, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return m.best, m.outcome, nil
}

func (m *mockListings) SellerProfile(ctx context.Context, sellerID string) (domain.SellerProfile, error) {
	if m.err != nil {
		return domain.SellerProfile{}, m.err
	}
	return m.profile, nil
}

type mockCarts struct {
	cart     *cart.Cart
	contains bool
	err      error

	gotUser string
	gotKey  domain.LineKey
	gotQty  int
}

func (m *mockCarts) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	m.gotUser = userID
	return m.cart, m.err
}

func (m *mockCarts) AddItem(ctx context.Context, userID, productID, listingID string, qty int) (*cart.Cart, error) {
	m.gotUser = userID
	m.gotKey = domain.KeyFor(productID, listingID)
	m.gotQty = qty
	return m.cart, m.err
}

func (m *mockCarts) SetQuantity(ctx context.Context, userID string, key domain.LineKey, qty int) (*cart.Cart, error) {
	m.gotUser = userID
	m.gotKey = key
	m.gotQty = qty
	return m.cart, m.err
}

func (m *mockCarts) Remove(ctx context.Context, userID string, key domain.LineKey) (*cart.Cart, error) {
	m.gotUser = userID
	m.gotKey = key
	return m.cart, m.err
}

func (m *mockCarts) Clear(ctx context.Context, userID string) (*cart.Cart, error) {
	m.gotUser = userID
	return cart.New(), m.err
}

func (m *mockCarts) Contains(ctx context.Context, userID, productID, listingID string) (bool, error) {
	m.gotUser = userID
	m.gotKey = domain.KeyFor(productID, listingID)
	return m.contains, m.err
}

func (m *mockCarts) GroupBySeller(ctx context.Context, userID string) ([]domain.SellerGroup, error) {
	m.gotUser = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.cart.GroupBySeller(), nil
}

type mockCheckout struct {
	quote  checkout.Quote
	result checkout.Result
	err    error

	gotReq   checkout.Request
	gotTiers map[string]domain.ShippingTier
	gotOpts  checkout.TotalOptions
	calls    int
}

func (m *mockCheckout) Quote(ctx context.Context, userID string, tiers map[string]domain.ShippingTier, opts checkout.TotalOptions) (checkout.Quote, error) {
	m.calls++
	m.gotTiers = tiers
	m.gotOpts = opts
	return m.quote, m.err
}

func (m *mockCheckout) Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error) {
	m.calls++
	m.gotReq = req
	return m.result, m.err
}

func (m *mockCheckout) Session(ctx context.Context, userID, checkoutID string) (checkout.Result, error) {
	m.calls++
	return m.result, m.err
}

type testServer struct {
	listings *mockListings
	carts    *mockCarts
	checkout *mockCheckout
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		listings: &mockListings{},
		carts:    &mockCarts{cart: cart.New()},
		checkout: &mockCheckout{},
	}
	s.handler = NewRouter(Handlers{
		Listings: NewListingHandler(s.listings, 5*time.Second, nil),
		Carts:    NewCartHandler(s.carts, 5*time.Second, nil),
		Checkout: NewCheckoutHandler(s.checkout, 5*time.Second, nil),
	}, RouterOptions{RequestTimeout: 10 * time.Second})
	return s
}

// do sends the request as user u1.
func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	return s.doAs("u1", method, path, body)
}

func (s *testServer) doAs(userID, method, path, body string) *httptest.ResponseRecorder {
	req := newJSONRequest(method, path, body)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	return s.serve(req)
}

func (s *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func newJSONRequest(method, path, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, path, nil)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testListing(id, sellerID, price string, cond domain.Condition) domain.Listing {
	return domain.Listing{
		ID:        id,
		ProductID: "p1",
		SellerID:  sellerID,
		Price:     dec(price),
		Condition: cond,
		Quantity:  1,
		Status:    domain.ListingStatusActive,
	}
}
