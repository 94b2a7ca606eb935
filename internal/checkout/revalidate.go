package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
	"golang.org/x/sync/errgroup"
)

const (
	staleRemoved      = "listing_removed"
	staleInactive     = "listing_inactive"
	staleInsufficient = "insufficient_quantity"
	staleProductGone  = "product_removed"
)

// revalidate reads the current state of every listing line and returns the stock of
// each listing. Lines sold by the official store are not checked.
func (s *Service) revalidate(ctx context.Context, items []domain.CartLineItem) (map[string]int, error) {
	var productIDs []string
	seen := map[string]bool{}
	for _, item := range items {
		if item.ListingID == "" || seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		productIDs = append(productIDs, item.ProductID)
	}
	if len(productIDs) == 0 {
		return map[string]int{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Revalidate)
	defer cancel()

	fresh := make([][]domain.Listing, len(productIDs))
	gone := make([]bool, len(productIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, productID := range productIDs {
		g.Go(func() error {
			listings, err := s.listings.Fresh(gctx, productID)
			if errors.Is(err, listing.ErrProductNotFound) {
				gone[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			fresh[i] = listings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRevalidationIncomplete, err)
	}

	byID := map[string]domain.Listing{}
	removedProducts := map[string]bool{}
	for i, productID := range productIDs {
		if gone[i] {
			removedProducts[productID] = true
			continue
		}
		for _, l := range fresh[i] {
			byID[l.ID] = l
		}
	}

	available := map[string]int{}
	var stale []StaleLine
	for _, item := range items {
		if item.ListingID == "" {
			continue
		}
		line := StaleLine{Key: item.Key, Requested: item.Quantity}

		l, ok := byID[item.ListingID]
		switch {
		case removedProducts[item.ProductID]:
			line.Reason = staleProductGone
		case !ok:
			line.Reason = staleRemoved
		case l.Status != domain.ListingStatusActive:
			line.Reason = staleInactive
			line.Available = l.Quantity
		case l.Quantity < item.Quantity:
			line.Reason = staleInsufficient
			line.Available = l.Quantity
		default:
			available[l.ID] = l.Quantity
			continue
		}
		stale = append(stale, line)
	}

	if len(stale) > 0 {
		return nil, &StaleCartError{Lines: stale}
	}
	return available, nil
}
