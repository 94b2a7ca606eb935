package listing

import (
	"fmt"
	"sort"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

type SortKey string

const (
	SortPriceAsc      SortKey = "price_asc"
	SortPriceDesc     SortKey = "price_desc"
	SortRatingDesc    SortKey = "rating_desc"
	SortConditionDesc SortKey = "condition_desc"

	DefaultSort = SortPriceAsc
)

func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case "":
		return DefaultSort, nil
	case SortPriceAsc, SortPriceDesc, SortRatingDesc, SortConditionDesc:
		return SortKey(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
}

// Outcome tells callers whether a known product has anything to buy.
type Outcome string

const (
	OutcomeOffers   Outcome = "offers"
	OutcomeNoOffers Outcome = "no_offers"
)

// Filter narrows the comparison table. It never affects best-offer selection.
type Filter struct {
	Conditions   []domain.Condition
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	VerifiedOnly bool
}

func (f Filter) Match(l domain.Listing) bool {
	if f.VerifiedOnly && !l.SellerVerified {
		return false
	}
	if f.MinPrice != nil && l.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && l.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if len(f.Conditions) == 0 {
		return true
	}
	for _, c := range f.Conditions {
		if l.Condition == c {
			return true
		}
	}
	return false
}

// Params returns the filter as cache key parameters. Conditions are sorted so that
// the same set in any order yields the same key.
func (f Filter) Params() map[string]any {
	params := map[string]any{}
	if len(f.Conditions) > 0 {
		conds := make([]string, len(f.Conditions))
		for i, c := range f.Conditions {
			conds[i] = string(c)
		}
		sort.Strings(conds)
		params["conditions"] = conds
	}
	if f.MinPrice != nil {
		params["min_price"] = *f.MinPrice
	}
	if f.MaxPrice != nil {
		params["max_price"] = *f.MaxPrice
	}
	if f.VerifiedOnly {
		params["verified_only"] = true
	}
	return params
}

type Selection struct {
	ProductID string           `json:"product_id"`
	Outcome   Outcome          `json:"outcome"`
	Best      *domain.Listing  `json:"best,omitempty"`
	Offers    []domain.Listing `json:"offers"`
	Sort      SortKey          `json:"sort"`
}

// Eligible keeps active listings with stock, preserving order.
func Eligible(listings []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if l.Eligible() {
			out = append(out, l)
		}
	}
	return out
}

// Best returns the cheapest eligible listing. On equal prices the earlier listing wins.
func Best(listings []domain.Listing) (domain.Listing, bool) {
	var best domain.Listing
	found := false
	for _, l := range listings {
		if !l.Eligible() {
			continue
		}
		if !found || l.Price.LessThan(best.Price) {
			best = l
			found = true
		}
	}
	return best, found
}

// Sort returns a sorted copy. Equal elements keep their relative order.
func Sort(listings []domain.Listing, key SortKey) []domain.Listing {
	out := make([]domain.Listing, len(listings))
	copy(out, listings)

	var less func(a, b domain.Listing) bool
	switch key {
	case SortPriceDesc:
		less = func(a, b domain.Listing) bool { return a.Price.GreaterThan(b.Price) }
	case SortRatingDesc:
		less = func(a, b domain.Listing) bool { return a.Rating() > b.Rating() }
	case SortConditionDesc:
		less = func(a, b domain.Listing) bool { return a.Condition.Rank() > b.Condition.Rank() }
	default:
		less = func(a, b domain.Listing) bool { return a.Price.LessThan(b.Price) }
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Select builds the buyer-facing view of a product's listings.
func Select(productID string, listings []domain.Listing, key SortKey, filter Filter) Selection {
	if key == "" {
		key = DefaultSort
	}
	sel := Selection{
		ProductID: productID,
		Outcome:   OutcomeNoOffers,
		Offers:    []domain.Listing{},
		Sort:      key,
	}

	eligible := Eligible(listings)
	if len(eligible) == 0 {
		return sel
	}

	best, _ := Best(eligible)
	sel.Outcome = OutcomeOffers
	sel.Best = &best

	filtered := make([]domain.Listing, 0, len(eligible))
	for _, l := range eligible {
		if filter.Match(l) {
			filtered = append(filtered, l)
		}
	}
	sel.Offers = Sort(filtered, key)
	return sel
}
