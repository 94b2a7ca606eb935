package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/checkout/repository"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
)

type mockCarts struct {
	carts   map[string]*cart.Cart
	getErr  error
	settled []string
}

func newMockCarts() *mockCarts {
	return &mockCarts{carts: map[string]*cart.Cart{}}
}

func (m *mockCarts) Get(_ context.Context, userID string) (*cart.Cart, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.carts[userID]
	if !ok {
		return cart.New(), nil
	}
	return c.Clone(), nil
}

func (m *mockCarts) Settle(_ context.Context, userID string, paid []domain.CartLineItem) (*cart.Cart, error) {
	m.settled = append(m.settled, userID)
	c, ok := m.carts[userID]
	if !ok {
		return cart.New(), nil
	}
	c.Settle(paid)
	return c.Clone(), nil
}

type mockListings struct {
	mu          sync.Mutex
	listings    map[string][]domain.Listing
	err         error
	delay       time.Duration
	invalidated []string
}

func newMockListings() *mockListings {
	return &mockListings{listings: map[string][]domain.Listing{}}
}

func (m *mockListings) Fresh(ctx context.Context, productID string) ([]domain.Listing, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	listings, ok := m.listings[productID]
	if !ok {
		return nil, listing.ErrProductNotFound
	}
	return append([]domain.Listing(nil), listings...), nil
}

func (m *mockListings) InvalidateProduct(productID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, productID)
}

// mockSales keeps one record per checkout. With stock set, sales beyond it are rejected.
type mockSales struct {
	mu        sync.Mutex
	sold      map[string]int
	checkouts map[string]bool
	stock     map[string]int
	err       error
	calls     int
}

func (m *mockSales) RecordSales(_ context.Context, checkoutID string, sales []listing.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.checkouts[checkoutID] {
		return nil
	}
	if m.stock != nil {
		for _, sale := range sales {
			if m.stock[sale.ListingID] < sale.Quantity {
				return listing.ErrInsufficientQuantity
			}
		}
		for _, sale := range sales {
			m.stock[sale.ListingID] -= sale.Quantity
		}
	}
	if m.sold == nil {
		m.sold = map[string]int{}
		m.checkouts = map[string]bool{}
	}
	for _, sale := range sales {
		m.sold[sale.ListingID] += sale.Quantity
	}
	m.checkouts[checkoutID] = true
	return nil
}

type MockRepository struct {
	mu             sync.Mutex
	sessions       map[string]*domain.CheckoutSession
	byKey          map[string]string
	outbox         map[string][]byte
	GetErr         error
	CreateErr      error
	CompleteErr    error
	SetPaymentsErr error
}

func newMockRepository() *MockRepository {
	return &MockRepository{
		sessions: map[string]*domain.CheckoutSession{},
		byKey:    map[string]string{},
		outbox:   map[string][]byte{},
	}
}

func (m *MockRepository) GetSessionByIdempotencyKey(_ context.Context, key string) (*domain.CheckoutSession, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	s := *m.sessions[id]
	return &s, nil
}

func (m *MockRepository) GetSession(_ context.Context, id string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockRepository) CreateSession(_ context.Context, s *domain.CheckoutSession) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[s.IdempotencyKey]; ok {
		return repository.ErrDuplicateIdempotencyKey
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.byKey[s.IdempotencyKey] = s.ID
	return nil
}

func (m *MockRepository) move(id string, from, to domain.CheckoutStatus) (*domain.CheckoutSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	if s.Status != from {
		return nil, repository.ErrStatusConflict
	}
	s.Status = to
	return s, nil
}

func (m *MockRepository) UpdateSessionStatus(_ context.Context, id string, from, to domain.CheckoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.move(id, from, to)
	return err
}

func (m *MockRepository) SetReservation(_ context.Context, id, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.move(id, domain.CheckoutStatusInitiated, domain.CheckoutStatusInventoryReserved)
	if err != nil {
		return err
	}
	s.ReservationID = reservationID
	return nil
}

func (m *MockRepository) SetPayments(_ context.Context, id string, payments []domain.PaymentIntent) error {
	if m.SetPaymentsErr != nil {
		return m.SetPaymentsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.move(id, domain.CheckoutStatusPaymentPending, domain.CheckoutStatusPaymentCompleted)
	if err != nil {
		return err
	}
	s.Payments = payments
	return nil
}

func (m *MockRepository) CompleteSession(_ context.Context, id string, payload []byte) error {
	if m.CompleteErr != nil {
		return m.CompleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.move(id, domain.CheckoutStatusPaymentCompleted, domain.CheckoutStatusCompleted); err != nil {
		return err
	}
	m.outbox[id] = payload
	return nil
}

func (m *MockRepository) status(id string) domain.CheckoutStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Status
}

// seqRoller plays back payment rolls; after the last one every charge succeeds.
type seqRoller struct {
	rolls []int
	calls int
}

func (r *seqRoller) Roll() int {
	r.calls++
	if len(r.rolls) == 0 {
		return 0
	}
	v := r.rolls[0]
	r.rolls = r.rolls[1:]
	return v
}

var errStoreDown = errors.New("store down")
