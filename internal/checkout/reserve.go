package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/inventory"
)

// reserveInventory holds every listing line for the session. available is the stock
// read after the ledger was at mark. A cart of official store items only moves to
// INVENTORY_RESERVED without a reservation.
func (s *Service) reserveInventory(ctx context.Context, session *domain.CheckoutSession, items []domain.CartLineItem, available map[string]int, mark uint64) error {
	if !domain.CanTransitionTo(session.Status, domain.CheckoutStatusInventoryReserved) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, session.Status, domain.CheckoutStatusInventoryReserved)
	}

	var reserve []inventory.ReservationItem
	for _, item := range items {
		if item.ListingID == "" {
			continue
		}
		reserve = append(reserve, inventory.ReservationItem{
			ListingID: item.ListingID,
			Quantity:  item.Quantity,
			Available: available[item.ListingID],
			ReadMark:  mark,
		})
	}

	reservationID := ""
	if len(reserve) > 0 {
		r, err := s.reservations.Reserve(session.ID, reserve)
		if err != nil {
			return fmt.Errorf("failed to reserve listings: %w", err)
		}
		reservationID = r.ID
		session.ReservationID = reservationID
	}

	if err := s.repo.SetReservation(ctx, session.ID, reservationID); err != nil {
		return fmt.Errorf("failed to store reservation: %w", err)
	}
	session.Status = domain.CheckoutStatusInventoryReserved
	session.UpdatedAt = s.clock.Now()
	return nil
}
