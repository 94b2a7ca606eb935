package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/inventory"
	"github.com/fjod/go_marketplace/internal/listing"
	"go.uber.org/zap"
)

// finish runs the steps after payment: the sale is written to the catalog, the
// session is completed and the paid lines leave the cart. When the catalog rejects
// the sale every intent is refunded and the session fails. Any other error leaves
// the session at PAYMENT_COMPLETED for Resume.
func (s *Service) finish(ctx context.Context, log *zap.Logger, session *domain.CheckoutSession) error {
	if err := s.recordSales(ctx, log, session); err != nil {
		if errors.Is(err, listing.ErrInsufficientQuantity) || errors.Is(err, listing.ErrListingNotFound) {
			s.refund(ctx, log, session.Payments)
			s.fail(ctx, log, session, err)
			return fmt.Errorf("%w: %w", ErrSaleRejected, err)
		}
		return err
	}
	if err := s.complete(ctx, log, session); err != nil {
		return err
	}
	s.settleCart(ctx, log, session)
	return nil
}

// recordSales writes sold quantities to the catalog, closes the reservation and drops
// cached listings of the sold products.
func (s *Service) recordSales(ctx context.Context, log *zap.Logger, session *domain.CheckoutSession) error {
	var sales []listing.Sale
	var sold []inventory.ReservationItem
	var productIDs []string
	seen := map[string]bool{}
	for _, item := range session.CartSnapshot.Items {
		if item.ListingID == "" {
			continue
		}
		sales = append(sales, listing.Sale{ListingID: item.ListingID, Quantity: item.Quantity})
		sold = append(sold, inventory.ReservationItem{ListingID: item.ListingID, Quantity: item.Quantity})
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}
	if len(sales) == 0 {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Store)
	defer cancel()
	if err := s.sales.RecordSales(storeCtx, session.ID, sales); err != nil {
		log.Error("failed to record sales", zap.Int("listings", len(sales)), zap.Error(err))
		return fmt.Errorf("failed to record sales: %w", err)
	}

	switch err := s.reservations.Confirm(session.ReservationID); {
	case errors.Is(err, inventory.ErrReservationNotFound):
		// lost with a restart; the units still have to count against older stock reads
		s.reservations.RecordSold(sold)
	case err != nil:
		log.Warn("failed to confirm reservation",
			zap.String("reservation_id", session.ReservationID),
			zap.Error(err),
		)
	}

	for _, productID := range productIDs {
		s.listings.InvalidateProduct(productID)
	}
	return nil
}

// complete writes the outbox event and marks the session COMPLETED.
func (s *Service) complete(ctx context.Context, log *zap.Logger, session *domain.CheckoutSession) error {
	if !domain.CanTransitionTo(session.Status, domain.CheckoutStatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, session.Status, domain.CheckoutStatusCompleted)
	}

	now := s.clock.Now()
	payload, err := completedPayload(session, now)
	if err != nil {
		return fmt.Errorf("failed to marshal checkout completed event: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Store)
	defer cancel()
	if err := s.repo.CompleteSession(storeCtx, session.ID, payload); err != nil {
		log.Error("failed to complete checkout session", zap.Error(err))
		return fmt.Errorf("failed to complete checkout session: %w", err)
	}
	session.Status = domain.CheckoutStatusCompleted
	session.UpdatedAt = now
	return nil
}

// settleCart takes the paid lines off the user's cart. Lines added while the checkout
// ran stay.
func (s *Service) settleCart(ctx context.Context, log *zap.Logger, session *domain.CheckoutSession) {
	if _, err := s.carts.Settle(context.WithoutCancel(ctx), session.UserID, session.CartSnapshot.Items); err != nil {
		log.Warn("failed to settle cart after checkout", zap.Error(err))
	}
}
