package listing

import (
	"context"
	"errors"

	"github.com/fjod/go_marketplace/internal/domain"
)

var (
	ErrProductNotFound       = errors.New("product not found")
	ErrSellerNotFound        = errors.New("seller not found")
	ErrListingNotFound       = errors.New("listing not found")
	ErrInsufficientQuantity  = errors.New("listing quantity is lower than requested")
	ErrInvalidSortKey        = errors.New("invalid sort key")
	ErrInvalidFilterArgument = errors.New("invalid filter argument")
)

// Source is the listing/seller read side of the row store.
// FetchListingsForProduct returns ErrProductNotFound for unknown products and an
// empty slice for known products without listings.
type Source interface {
	FetchListingsForProduct(ctx context.Context, productID string) ([]domain.Listing, error)
	FetchSellerProfile(ctx context.Context, sellerID string) (*domain.SellerProfile, error)
	FetchProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// Sale is the quantity of one listing bought in a checkout.
type Sale struct {
	ListingID string
	Quantity  int
}
