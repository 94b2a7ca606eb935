package http

import (
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/checkout"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
)

// Amounts leave the API as fixed two-decimal strings.

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
	ListingID string `json:"listing_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type QuoteRequestDTO struct {
	Shipping        map[string]string `json:"shipping,omitempty"`
	IncludeShipping *bool             `json:"include_shipping,omitempty"`
	IncludeTax      *bool             `json:"include_tax,omitempty"`
}

type CheckoutRequestDTO struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Shipping       map[string]string `json:"shipping,omitempty"`
}

type ListingDTO struct {
	ID             string   `json:"id"`
	ProductID      string   `json:"product_id"`
	SellerID       string   `json:"seller_id"`
	Price          string   `json:"price"`
	Condition      string   `json:"condition"`
	Quantity       int      `json:"quantity"`
	Status         string   `json:"status"`
	SellerRating   *float64 `json:"seller_rating,omitempty"`
	SellerVerified bool     `json:"seller_verified"`
}

type SelectionDTO struct {
	ProductID string       `json:"product_id"`
	Outcome   string       `json:"outcome"`
	Sort      string       `json:"sort"`
	Best      *ListingDTO  `json:"best,omitempty"`
	Offers    []ListingDTO `json:"offers"`
}

type BestOfferDTO struct {
	ProductID string      `json:"product_id"`
	Outcome   string      `json:"outcome"`
	Listing   *ListingDTO `json:"listing,omitempty"`
}

type SellerDTO struct {
	SellerID      string  `json:"seller_id"`
	StoreName     string  `json:"store_name"`
	IsVerified    bool    `json:"is_verified"`
	AverageRating float64 `json:"average_rating"`
}

type CartItemDTO struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	ProductID  string `json:"product_id"`
	ListingID  string `json:"listing_id,omitempty"`
	SellerID   string `json:"seller_id"`
	SellerName string `json:"seller_name,omitempty"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	UnitPrice  string `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	LineTotal  string `json:"line_total"`
}

type CartDTO struct {
	Items       []CartItemDTO `json:"items"`
	ItemCount   int           `json:"item_count"`
	TotalAmount string        `json:"total_amount"`
	UpdatedAt   *time.Time    `json:"updated_at,omitempty"`
}

type SellerGroupDTO struct {
	SellerID   string        `json:"seller_id"`
	SellerName string        `json:"seller_name"`
	Items      []CartItemDTO `json:"items"`
	Subtotal   string        `json:"subtotal"`
}

type BreakdownDTO struct {
	SellerID     string        `json:"seller_id"`
	SellerName   string        `json:"seller_name"`
	Subtotal     string        `json:"subtotal"`
	Shipping     string        `json:"shipping"`
	ShippingTier string        `json:"shipping_tier,omitempty"`
	Tax          string        `json:"tax"`
	Total        string        `json:"total"`
	Items        []CartItemDTO `json:"items"`
}

type TotalsDTO struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type QuoteDTO struct {
	Breakdowns []BreakdownDTO `json:"breakdowns"`
	Totals     TotalsDTO      `json:"totals"`
}

type PaymentDTO struct {
	ID       string `json:"id"`
	SellerID string `json:"seller_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type CheckoutDTO struct {
	CheckoutID string         `json:"checkout_id"`
	Status     string         `json:"status"`
	Breakdowns []BreakdownDTO `json:"breakdowns"`
	Totals     TotalsDTO      `json:"totals"`
	Payments   []PaymentDTO   `json:"payments"`
	Duplicate  bool           `json:"duplicate"`
}

func toListingDTO(l domain.Listing) ListingDTO {
	return ListingDTO{
		ID:             l.ID,
		ProductID:      l.ProductID,
		SellerID:       l.SellerID,
		Price:          domain.FormatMoney(l.Price),
		Condition:      string(l.Condition),
		Quantity:       l.Quantity,
		Status:         string(l.Status),
		SellerRating:   l.SellerRating,
		SellerVerified: l.SellerVerified,
	}
}

func toSelectionDTO(sel listing.Selection) SelectionDTO {
	out := SelectionDTO{
		ProductID: sel.ProductID,
		Outcome:   string(sel.Outcome),
		Sort:      string(sel.Sort),
		Offers:    make([]ListingDTO, 0, len(sel.Offers)),
	}
	if sel.Best != nil {
		best := toListingDTO(*sel.Best)
		out.Best = &best
	}
	for _, l := range sel.Offers {
		out.Offers = append(out.Offers, toListingDTO(l))
	}
	return out
}

func toItemDTOs(items []domain.CartLineItem) []CartItemDTO {
	out := make([]CartItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, CartItemDTO{
			Key:        item.Key.String(),
			Kind:       string(item.Key.Kind),
			ProductID:  item.ProductID,
			ListingID:  item.ListingID,
			SellerID:   item.GroupID(),
			SellerName: item.SellerName,
			Title:      item.Title,
			Artist:     item.Artist,
			UnitPrice:  domain.FormatMoney(item.UnitPrice),
			Quantity:   item.Quantity,
			LineTotal:  domain.FormatMoney(item.LineTotal()),
		})
	}
	return out
}

func toCartDTO(c *cart.Cart) CartDTO {
	out := CartDTO{
		Items:       toItemDTOs(c.Items()),
		ItemCount:   c.ItemCount(),
		TotalAmount: domain.FormatMoney(c.TotalAmount()),
	}
	if updated := c.UpdatedAt(); !updated.IsZero() {
		out.UpdatedAt = &updated
	}
	return out
}

func toSellerGroupDTOs(groups []domain.SellerGroup) []SellerGroupDTO {
	out := make([]SellerGroupDTO, 0, len(groups))
	for _, g := range groups {
		out = append(out, SellerGroupDTO{
			SellerID:   g.SellerID,
			SellerName: g.SellerName,
			Items:      toItemDTOs(g.Items),
			Subtotal:   domain.FormatMoney(g.Subtotal),
		})
	}
	return out
}

func toBreakdownDTOs(breakdowns []domain.CheckoutBreakdown) []BreakdownDTO {
	out := make([]BreakdownDTO, 0, len(breakdowns))
	for _, b := range breakdowns {
		out = append(out, BreakdownDTO{
			SellerID:     b.SellerID,
			SellerName:   b.SellerName,
			Subtotal:     domain.FormatMoney(b.Subtotal),
			Shipping:     domain.FormatMoney(b.Shipping),
			ShippingTier: string(b.ShippingTier),
			Tax:          domain.FormatMoney(b.Tax),
			Total:        domain.FormatMoney(b.Total),
			Items:        toItemDTOs(b.Items),
		})
	}
	return out
}

func toTotalsDTO(t checkout.OrderTotal) TotalsDTO {
	return TotalsDTO{
		Subtotal: domain.FormatMoney(t.Subtotal),
		Shipping: domain.FormatMoney(t.Shipping),
		Tax:      domain.FormatMoney(t.Tax),
		Total:    domain.FormatMoney(t.Total),
		Currency: domain.Currency,
	}
}

func toCheckoutDTO(res checkout.Result) CheckoutDTO {
	out := CheckoutDTO{
		CheckoutID: res.CheckoutID,
		Status:     string(res.Status),
		Breakdowns: toBreakdownDTOs(res.Breakdowns),
		Totals:     toTotalsDTO(res.Totals),
		Payments:   make([]PaymentDTO, 0, len(res.Payments)),
		Duplicate:  res.Duplicate,
	}
	for _, p := range res.Payments {
		out.Payments = append(out.Payments, PaymentDTO{
			ID:       p.ID,
			SellerID: p.SellerID,
			Amount:   domain.FormatMoney(p.Amount),
			Currency: p.Currency,
			Status:   p.Status,
		})
	}
	return out
}

// parseShipping converts the seller -> tier map of a request body.
func parseShipping(in map[string]string) (map[string]domain.ShippingTier, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]domain.ShippingTier, len(in))
	for sellerID, raw := range in {
		tier, err := domain.ParseShippingTier(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: seller %s: %v", checkout.ErrUnknownShippingTier, sellerID, err)
		}
		out[domain.NormalizeSellerID(sellerID)] = tier
	}
	return out, nil
}
