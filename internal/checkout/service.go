package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/checkout/repository"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/inventory"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/fjod/go_marketplace/internal/metrics"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/fjod/go_marketplace/pkg/clock"
	"github.com/fjod/go_marketplace/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CartStore interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	Settle(ctx context.Context, userID string, paid []domain.CartLineItem) (*cart.Cart, error)
}

// ListingReader gives the checkout uncached listing reads. listing.Reader implements it.
type ListingReader interface {
	Fresh(ctx context.Context, productID string) ([]domain.Listing, error)
	InvalidateProduct(productID string)
}

// SalesRecorder writes the sold quantities of a checkout back to the catalog, all of
// them or none. Recording the same checkout again is a no-op.
type SalesRecorder interface {
	RecordSales(ctx context.Context, checkoutID string, sales []listing.Sale) error
}

type Reservations interface {
	Mark() uint64
	Reserve(checkoutID string, items []inventory.ReservationItem) (*inventory.Reservation, error)
	Confirm(reservationID string) error
	Release(reservationID string) error
	RecordSold(items []inventory.ReservationItem)
}

type Repository interface {
	GetSessionByIdempotencyKey(ctx context.Context, key string) (*domain.CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*domain.CheckoutSession, error)
	CreateSession(ctx context.Context, s *domain.CheckoutSession) error
	UpdateSessionStatus(ctx context.Context, id string, from, to domain.CheckoutStatus) error
	SetReservation(ctx context.Context, id, reservationID string) error
	SetPayments(ctx context.Context, id string, payments []domain.PaymentIntent) error
	CompleteSession(ctx context.Context, id string, payload []byte) error
}

// Timeouts bound each call the checkout makes outside the process.
type Timeouts struct {
	Revalidate time.Duration
	Payment    time.Duration
	Store      time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Revalidate: 2 * time.Second,
		Payment:    5 * time.Second,
		Store:      2 * time.Second,
	}
}

type Options struct {
	Config   Config
	Timeouts Timeouts
	Clock    clock.Clock
	Logger   *zap.Logger
}

type Request struct {
	UserID         string
	IdempotencyKey string
	// seller id -> selected tier; sellers left out use the default shipping formula
	Shipping map[string]domain.ShippingTier
}

type Result struct {
	CheckoutID string                     `json:"checkout_id"`
	Status     domain.CheckoutStatus      `json:"status"`
	Breakdowns []domain.CheckoutBreakdown `json:"breakdowns"`
	Totals     OrderTotal                 `json:"totals"`
	Payments   []domain.PaymentIntent     `json:"payments"`
	Duplicate  bool                       `json:"duplicate"`
}

type Service struct {
	calc         *Calculator
	carts        CartStore
	listings     ListingReader
	sales        SalesRecorder
	reservations Reservations
	repo         Repository
	gateway      payment.Gateway
	timeouts     Timeouts
	clock        clock.Clock
	log          *zap.Logger
}

func NewService(
	carts CartStore,
	listings ListingReader,
	sales SalesRecorder,
	reservations Reservations,
	repo Repository,
	gateway payment.Gateway,
	opts Options,
) *Service {
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		calc:         NewCalculator(opts.Config),
		carts:        carts,
		listings:     listings,
		sales:        sales,
		reservations: reservations,
		repo:         repo,
		gateway:      gateway,
		timeouts:     opts.Timeouts,
		clock:        opts.Clock,
		log:          opts.Logger,
	}
}

func (s *Service) Calculator() *Calculator {
	return s.calc
}

// Quote prices the user's current cart without reserving or paying anything.
func (s *Service) Quote(ctx context.Context, userID string, tiers map[string]domain.ShippingTier, opts TotalOptions) (Quote, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return Quote{}, err
	}
	if c.IsEmpty() {
		return Quote{}, ErrEmptyCart
	}
	return s.calc.Quote(c.GroupBySeller(), tiers, opts)
}

// Session returns a checkout of the user. Sessions of other users are reported as missing.
func (s *Service) Session(ctx context.Context, userID, checkoutID string) (Result, error) {
	if _, err := uuid.Parse(checkoutID); err != nil {
		return Result{}, repository.ErrSessionNotFound
	}
	session, err := s.repo.GetSession(ctx, checkoutID)
	if err != nil {
		return Result{}, err
	}
	if session.UserID != userID {
		return Result{}, repository.ErrSessionNotFound
	}
	return s.result(session, false), nil
}

// Checkout pays for the user's cart: one payment intent per seller group. A request
// repeating an idempotency key returns the session created by the first request.
func (s *Service) Checkout(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	metrics.CheckoutAttemptsTotal.Inc()
	defer func() {
		metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
		metrics.CheckoutOutcomes.WithLabelValues(outcome(res, err)).Inc()
	}()

	if req.IdempotencyKey == "" {
		return Result{}, ErrMissingIdempotencyKey
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("user_id", req.UserID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	existing, err := s.repo.GetSessionByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return Result{}, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		log.Info("duplicate checkout request",
			zap.String("checkout_id", existing.ID),
			zap.String("status", existing.Status.String()),
		)
		return s.result(existing, true), nil
	}

	c, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if c.IsEmpty() {
		return Result{}, ErrEmptyCart
	}
	items := c.Items()

	mark := s.reservations.Mark()
	available, err := s.revalidate(ctx, items)
	if err != nil {
		return Result{}, err
	}

	breakdowns, err := s.calc.Breakdowns(c.GroupBySeller(), req.Shipping)
	if err != nil {
		return Result{}, err
	}

	now := s.clock.Now()
	session := &domain.CheckoutSession{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.CheckoutStatusInitiated,
		CartSnapshot:   c.State(),
		Breakdowns:     breakdowns,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			return s.concurrentDuplicate(ctx, req.IdempotencyKey)
		}
		return Result{}, fmt.Errorf("failed to create checkout session: %w", err)
	}
	log = log.With(zap.String("checkout_id", session.ID))

	if err := s.reserveInventory(ctx, session, items, available, mark); err != nil {
		s.fail(ctx, log, session, err)
		return s.result(session, false), err
	}

	if err := s.processPayments(ctx, log, session, req.IdempotencyKey); err != nil {
		s.fail(ctx, log, session, err)
		return s.result(session, false), err
	}

	if err := s.finish(ctx, log, session); err != nil {
		if session.Status == domain.CheckoutStatusFailed {
			return s.result(session, false), err
		}
		log.Warn("paid checkout left for recovery", zap.Error(err))
	}
	log.Info("checkout finished", zap.String("status", session.Status.String()))
	return s.result(session, false), nil
}

// Resume finishes a paid checkout that stopped before COMPLETED. It is safe to call
// more than once for the same session.
func (s *Service) Resume(ctx context.Context, session *domain.CheckoutSession) error {
	if session.Status != domain.CheckoutStatusPaymentCompleted {
		return fmt.Errorf("%w: cannot resume %s", ErrIllegalTransition, session.Status)
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("checkout_id", session.ID),
		zap.String("user_id", session.UserID),
	)
	return s.finish(ctx, log, session)
}

func (s *Service) concurrentDuplicate(ctx context.Context, key string) (Result, error) {
	existing, err := s.repo.GetSessionByIdempotencyKey(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load concurrent checkout: %w", err)
	}
	return s.result(existing, true), nil
}

// transition moves the session to the next status, locally and in the repository.
func (s *Service) transition(ctx context.Context, session *domain.CheckoutSession, to domain.CheckoutStatus) error {
	if !domain.CanTransitionTo(session.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, session.Status, to)
	}
	if err := s.repo.UpdateSessionStatus(ctx, session.ID, session.Status, to); err != nil {
		return err
	}
	session.Status = to
	session.UpdatedAt = s.clock.Now()
	return nil
}

// fail releases whatever the session holds and marks it FAILED.
func (s *Service) fail(ctx context.Context, log *zap.Logger, session *domain.CheckoutSession, cause error) {
	log.Warn("checkout failed", zap.String("status", session.Status.String()), zap.Error(cause))

	if session.ReservationID != "" {
		if err := s.reservations.Release(session.ReservationID); err != nil {
			log.Error("failed to release reservation",
				zap.String("reservation_id", session.ReservationID),
				zap.Error(err),
			)
		}
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Store)
	defer cancel()
	if err := s.transition(storeCtx, session, domain.CheckoutStatusFailed); err != nil {
		log.Error("failed to mark checkout as failed", zap.Error(err))
	}
}

func (s *Service) result(session *domain.CheckoutSession, duplicate bool) Result {
	payments := session.Payments
	if payments == nil {
		payments = []domain.PaymentIntent{}
	}
	return Result{
		CheckoutID: session.ID,
		Status:     session.Status,
		Breakdowns: session.Breakdowns,
		Totals:     s.calc.OrderTotal(session.Breakdowns, DefaultTotalOptions()),
		Payments:   payments,
		Duplicate:  duplicate,
	}
}

func completedPayload(session *domain.CheckoutSession, at time.Time) ([]byte, error) {
	return json.Marshal(domain.NewCheckoutCompletedEvent(*session, at))
}

func outcome(res Result, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return "duplicate"
	case err == nil:
		return "completed"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrStaleCart):
		return "stale_cart"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrSaleRejected):
		return "sale_rejected"
	case errors.Is(err, payment.ErrDeclined):
		return "declined"
	default:
		return "error"
	}
}
