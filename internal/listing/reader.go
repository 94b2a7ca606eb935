package listing

import (
	"context"
	"fmt"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

func ListingsKey(productID string) string { return "listings_product_" + productID }
func SellerKey(sellerID string) string    { return "seller_profiles_user_" + sellerID }
func ProductKey(productID string) string  { return "products_" + productID }

// Reader fronts a Source with a TTL cache. Concurrent misses for the same key share
// one Source call.
type Reader struct {
	source Source
	cache  *cache.TTL[any]
	sfg    singleflight.Group
	log    *zap.Logger
}

func NewReader(source Source, c *cache.TTL[any], log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{source: source, cache: c, log: log}
}

// Listings returns every listing of the product, eligible or not.
func (r *Reader) Listings(ctx context.Context, productID string) ([]domain.Listing, error) {
	key := ListingsKey(productID)
	if v, ok := r.cache.Get(key); ok {
		metrics.CacheHit("listings")
		return cloneListings(v.([]domain.Listing)), nil
	}
	metrics.CacheMiss("listings")

	v, err, _ := r.sfg.Do(key, func() (interface{}, error) {
		listings, err := r.source.FetchListingsForProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, listings)
		return listings, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch listings for product %s: %w", productID, err)
	}
	return cloneListings(v.([]domain.Listing)), nil
}

// Fresh reads listings from the source, bypassing the cache, and refreshes the cached
// copy. Comparisons built from the old copy are dropped.
func (r *Reader) Fresh(ctx context.Context, productID string) ([]domain.Listing, error) {
	listings, err := r.source.FetchListingsForProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("fetch fresh listings for product %s: %w", productID, err)
	}
	key := ListingsKey(productID)
	r.cache.Set(key, listings)
	if removed := r.cache.InvalidateByPrefix(key + ":"); removed > 0 {
		metrics.ListingCacheInvalidations.WithLabelValues("comparisons").Add(float64(removed))
	}
	return cloneListings(listings), nil
}

// Listing finds one listing of a product.
func (r *Reader) Listing(ctx context.Context, productID, listingID string) (domain.Listing, error) {
	listings, err := r.Listings(ctx, productID)
	if err != nil {
		return domain.Listing{}, err
	}
	for _, l := range listings {
		if l.ID == listingID {
			return l, nil
		}
	}
	return domain.Listing{}, fmt.Errorf("listing %s of product %s: %w", listingID, productID, ErrListingNotFound)
}

func (r *Reader) SellerProfile(ctx context.Context, sellerID string) (domain.SellerProfile, error) {
	key := SellerKey(sellerID)
	if v, ok := r.cache.Get(key); ok {
		metrics.CacheHit("seller_profiles")
		return v.(domain.SellerProfile), nil
	}
	metrics.CacheMiss("seller_profiles")

	v, err, _ := r.sfg.Do(key, func() (interface{}, error) {
		profile, err := r.source.FetchSellerProfile(ctx, sellerID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, *profile)
		return *profile, nil
	})
	if err != nil {
		return domain.SellerProfile{}, fmt.Errorf("fetch seller %s: %w", sellerID, err)
	}
	return v.(domain.SellerProfile), nil
}

func (r *Reader) Product(ctx context.Context, productID string) (domain.Product, error) {
	key := ProductKey(productID)
	if v, ok := r.cache.Get(key); ok {
		metrics.CacheHit("products")
		return v.(domain.Product), nil
	}
	metrics.CacheMiss("products")

	v, err, _ := r.sfg.Do(key, func() (interface{}, error) {
		product, err := r.source.FetchProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, *product)
		return *product, nil
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("fetch product %s: %w", productID, err)
	}
	return v.(domain.Product), nil
}

// Compare returns the sorted, filtered comparison table. Results are cached per
// sort and filter combination under the product's listings key.
func (r *Reader) Compare(ctx context.Context, productID string, sortKey SortKey, filter Filter) (Selection, error) {
	if sortKey == "" {
		sortKey = DefaultSort
	}
	params := filter.Params()
	params["sort"] = sortKey
	key := cache.Key(ListingsKey(productID), params)

	if v, ok := r.cache.Get(key); ok {
		metrics.CacheHit("comparisons")
		return cloneSelection(v.(Selection)), nil
	}
	metrics.CacheMiss("comparisons")

	listings, err := r.Listings(ctx, productID)
	if err != nil {
		return Selection{}, err
	}
	sel := Select(productID, listings, sortKey, filter)
	r.cache.Set(key, sel)
	return cloneSelection(sel), nil
}

// BestOffer returns the cheapest eligible listing, or nil with OutcomeNoOffers.
func (r *Reader) BestOffer(ctx context.Context, productID string) (*domain.Listing, Outcome, error) {
	listings, err := r.Listings(ctx, productID)
	if err != nil {
		return nil, "", err
	}
	best, ok := Best(listings)
	if !ok {
		return nil, OutcomeNoOffers, nil
	}
	return &best, OutcomeOffers, nil
}

// InvalidateProduct drops the product, its listings and every derived comparison.
func (r *Reader) InvalidateProduct(productID string) {
	key := ListingsKey(productID)
	r.cache.Delete(key)
	r.cache.Delete(ProductKey(productID))
	removed := r.cache.InvalidateByPrefix(key + ":")
	metrics.ListingCacheInvalidations.WithLabelValues("listings").Add(float64(removed + 1))
	r.log.Debug("listing cache invalidated",
		zap.String("product_id", productID),
		zap.Int("derived_removed", removed),
	)
}

func (r *Reader) InvalidateSeller(sellerID string) {
	r.cache.Delete(SellerKey(sellerID))
	metrics.ListingCacheInvalidations.WithLabelValues("seller_profiles").Inc()
	r.log.Debug("seller cache invalidated", zap.String("seller_id", sellerID))
}

func cloneListings(in []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, len(in))
	copy(out, in)
	return out
}

// cloneSelection copies what a caller could mutate: the best offer and the offers slice.
func cloneSelection(sel Selection) Selection {
	if sel.Best != nil {
		best := *sel.Best
		sel.Best = &best
	}
	sel.Offers = cloneListings(sel.Offers)
	return sel
}
