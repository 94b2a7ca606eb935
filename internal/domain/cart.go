package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OfficialSellerID groups line items that are not bound to a marketplace seller.
const OfficialSellerID = "official"

const OfficialSellerName = "Official Store"

const listingKeyPrefix = "listing-"

var ErrSnapshotNotFound = errors.New("cart snapshot not found")

type LineKind string

const (
	LineKindProduct LineKind = "product"
	LineKindListing LineKind = "listing"
)

func ParseLineKind(s string) (LineKind, error) {
	switch LineKind(s) {
	case LineKindProduct, LineKindListing:
		return LineKind(s), nil
	default:
		return "", fmt.Errorf("unknown line kind %q", s)
	}
}

// LineKey identifies a cart line: either a bare product or a specific listing.
type LineKey struct {
	Kind LineKind `json:"kind"`
	ID   string   `json:"id"`
}

func ProductKey(productID string) LineKey {
	return LineKey{Kind: LineKindProduct, ID: productID}
}

func ListingKey(listingID string) LineKey {
	return LineKey{Kind: LineKindListing, ID: listingID}
}

// KeyFor returns the listing key when listingID is set, otherwise the product key.
func KeyFor(productID, listingID string) LineKey {
	if listingID != "" {
		return ListingKey(listingID)
	}
	return ProductKey(productID)
}

// String is the display form: "listing-<id>" or the bare product id.
func (k LineKey) String() string {
	if k.Kind == LineKindListing {
		return listingKeyPrefix + k.ID
	}
	return k.ID
}

type CartLineItem struct {
	Key        LineKey         `json:"key"`
	ProductID  string          `json:"product_id"`
	ListingID  string          `json:"listing_id,omitempty"`
	SellerID   string          `json:"seller_id,omitempty"`
	SellerName string          `json:"seller_name,omitempty"`
	Title      string          `json:"title"`
	Artist     string          `json:"artist"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

func (i CartLineItem) ID() string {
	return i.Key.String()
}

func (i CartLineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// GroupID is the seller group the line belongs to.
func (i CartLineItem) GroupID() string {
	return NormalizeSellerID(i.SellerID)
}

func (i CartLineItem) MarshalJSON() ([]byte, error) {
	type alias CartLineItem
	return json.Marshal(struct {
		ID string `json:"id"`
		alias
	}{ID: i.ID(), alias: alias(i)})
}

// NormalizeSellerID maps an empty seller id to the official sentinel.
func NormalizeSellerID(sellerID string) string {
	if sellerID == "" {
		return OfficialSellerID
	}
	return sellerID
}

// CartState is the persisted cart. ItemCount and TotalAmount are derived from Items
// and must be recomputed after decoding.
type CartState struct {
	Items       []CartLineItem  `json:"items"`
	ItemCount   int             `json:"item_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (s CartState) IsEmpty() bool {
	return len(s.Items) == 0
}

type SellerGroup struct {
	SellerID   string          `json:"seller_id"`
	SellerName string          `json:"seller_name"`
	Items      []CartLineItem  `json:"items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// Units is the number of physical items in the group.
func (g SellerGroup) Units() int {
	units := 0
	for _, item := range g.Items {
		units += item.Quantity
	}
	return units
}
