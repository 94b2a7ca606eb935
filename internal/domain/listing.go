package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Condition string

const (
	ConditionMint     Condition = "mint"
	ConditionNearMint Condition = "near_mint"
	ConditionVeryGood Condition = "very_good"
	ConditionGood     Condition = "good"
	ConditionFair     Condition = "fair"
	ConditionPoor     Condition = "poor"
)

// Rank orders conditions from best (6) to worst (1). Unknown conditions rank 0.
func (c Condition) Rank() int {
	switch c {
	case ConditionMint:
		return 6
	case ConditionNearMint:
		return 5
	case ConditionVeryGood:
		return 4
	case ConditionGood:
		return 3
	case ConditionFair:
		return 2
	case ConditionPoor:
		return 1
	default:
		return 0
	}
}

func (c Condition) Valid() bool {
	return c.Rank() > 0
}

type ListingStatus string

const (
	ListingStatusActive  ListingStatus = "active"
	ListingStatusPending ListingStatus = "pending"
	ListingStatusSold    ListingStatus = "sold"
	ListingStatusDraft   ListingStatus = "draft"
)

// Listing is one seller's offer of a catalog product.
type Listing struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	SellerID       string          `json:"seller_id"`
	Price          decimal.Decimal `json:"price"`
	Condition      Condition       `json:"condition"`
	Quantity       int             `json:"quantity"`
	Status         ListingStatus   `json:"status"`
	SellerRating   *float64        `json:"seller_rating,omitempty"`
	SellerVerified bool            `json:"seller_verified"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Eligible reports whether the listing can be bought right now.
func (l Listing) Eligible() bool {
	return l.Status == ListingStatusActive && l.Quantity > 0
}

// Rating returns the seller rating, treating a missing rating as 0.
func (l Listing) Rating() float64 {
	if l.SellerRating == nil {
		return 0
	}
	return *l.SellerRating
}

type SellerProfile struct {
	SellerID      string  `json:"seller_id"`
	StoreName     string  `json:"store_name"`
	IsVerified    bool    `json:"is_verified"`
	AverageRating float64 `json:"average_rating"`
}

// Product is the catalog snapshot needed to put an item in a cart.
type Product struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Artist string          `json:"artist"`
	Price  decimal.Decimal `json:"price"`
}
