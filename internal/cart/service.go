package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/metrics"
	"github.com/fjod/go_marketplace/pkg/clock"
	"github.com/fjod/go_marketplace/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrListingUnavailable = errors.New("listing is not available")
	ErrListingMismatch    = errors.New("listing does not belong to product")
)

// Catalog resolves what a buyer adds to the cart. listing.Reader implements it.
type Catalog interface {
	Product(ctx context.Context, productID string) (domain.Product, error)
	Listing(ctx context.Context, productID, listingID string) (domain.Listing, error)
	SellerProfile(ctx context.Context, sellerID string) (domain.SellerProfile, error)
}

type Options struct {
	// how long a decoded cart stays in memory before it is read from the store again
	SessionTTL  time.Duration
	MaxSessions int
	Clock       clock.Clock
	Logger      *zap.Logger
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Service owns every cart. Operations on one user's cart run one at a time; carts of
// different users never block each other.
type Service struct {
	store    SnapshotStore
	catalog  Catalog
	sessions *cache.TTL[*Cart]
	clock    clock.Clock
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*userLock
}

func NewService(store SnapshotStore, catalog Catalog, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10000
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		sessions: cache.NewTTL[*Cart](cache.Options{
			TTL:        opts.SessionTTL,
			MaxEntries: opts.MaxSessions,
			Clock:      opts.Clock,
		}),
		clock: opts.Clock,
		log:   opts.Logger,
		locks: make(map[string]*userLock),
	}
}

// Get returns a copy of the user's cart. A user without a cart gets an empty one.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	unlock := s.lock(userID)
	defer unlock()

	c, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// AddItem resolves the product (and listing, when given) from the catalog and merges
// qty units into the cart. The price is the one the catalog reports right now.
func (s *Service) AddItem(ctx context.Context, userID, productID, listingID string, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	in, err := s.resolve(ctx, productID, listingID)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, userID, in, qty)
}

func (s *Service) Add(ctx context.Context, userID string, in LineInput, qty int) (*Cart, error) {
	return s.mutate(ctx, userID, "add", func(c *Cart) error {
		_, err := c.Add(in, qty)
		return err
	})
}

func (s *Service) SetQuantity(ctx context.Context, userID string, key domain.LineKey, qty int) (*Cart, error) {
	return s.mutate(ctx, userID, "set_quantity", func(c *Cart) error {
		return c.SetQuantity(key, qty)
	})
}

func (s *Service) Remove(ctx context.Context, userID string, key domain.LineKey) (*Cart, error) {
	return s.mutate(ctx, userID, "remove", func(c *Cart) error {
		return c.Remove(key)
	})
}

func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, "clear", func(c *Cart) error {
		c.Clear()
		return nil
	})
}

// Settle removes the lines a checkout paid for, leaving anything added since.
func (s *Service) Settle(ctx context.Context, userID string, paid []domain.CartLineItem) (*Cart, error) {
	return s.mutate(ctx, userID, "settle", func(c *Cart) error {
		c.Settle(paid)
		return nil
	})
}

func (s *Service) Contains(ctx context.Context, userID, productID, listingID string) (bool, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return c.Contains(productID, listingID), nil
}

func (s *Service) GroupBySeller(ctx context.Context, userID string) ([]domain.SellerGroup, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.GroupBySeller(), nil
}

func (s *Service) resolve(ctx context.Context, productID, listingID string) (LineInput, error) {
	if productID == "" {
		return LineInput{}, ErrInvalidItem
	}
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return LineInput{}, err
	}
	if listingID == "" {
		return FromProduct(product), nil
	}

	l, err := s.catalog.Listing(ctx, productID, listingID)
	if err != nil {
		return LineInput{}, err
	}
	if l.ProductID != productID {
		return LineInput{}, ErrListingMismatch
	}
	if !l.Eligible() {
		return LineInput{}, fmt.Errorf("%w: listing %s is %s with %d left", ErrListingUnavailable, l.ID, l.Status, l.Quantity)
	}

	sellerName := ""
	profile, err := s.catalog.SellerProfile(ctx, l.SellerID)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("seller profile lookup failed",
			zap.String("seller_id", l.SellerID),
			zap.Error(err),
		)
	} else {
		sellerName = profile.StoreName
	}
	return FromListing(l, product, sellerName), nil
}

// mutate runs fn on a copy of the cart and commits the copy only after it was saved.
func (s *Service) mutate(ctx context.Context, userID, op string, fn func(c *Cart) error) (*Cart, error) {
	unlock := s.lock(userID)
	defer unlock()

	current, err := s.load(ctx, userID)
	if err != nil {
		metrics.CartMutations.WithLabelValues(op, "error").Inc()
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		metrics.CartMutations.WithLabelValues(op, "rejected").Inc()
		return nil, err
	}
	next.Touch(s.clock.Now())

	data, err := Encode(next)
	if err != nil {
		metrics.CartMutations.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	if err := s.store.Save(ctx, userID, data); err != nil {
		metrics.CartMutations.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}

	s.sessions.Set(userID, next)
	metrics.CartMutations.WithLabelValues(op, "ok").Inc()
	return next.Clone(), nil
}

// load must be called with the user's lock held.
func (s *Service) load(ctx context.Context, userID string) (*Cart, error) {
	if c, ok := s.sessions.Get(userID); ok {
		return c, nil
	}

	data, err := s.store.Load(ctx, userID)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		c := New()
		s.sessions.Set(userID, c)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	c, err := Decode(data)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("discarding unreadable cart snapshot",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		metrics.CartSnapshotResets.Inc()
		c = New()
	}
	s.sessions.Set(userID, c)
	return c, nil
}

func (s *Service) lock(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}
