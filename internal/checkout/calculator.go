package checkout

import (
	"fmt"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

// Config holds the shipping and tax constants. TaxRate is a flat placeholder, not a
// jurisdictional rate.
type Config struct {
	BaseShipping       decimal.Decimal
	PerItemShipping    decimal.Decimal
	MaxAdditionalItems int
	ExpressSurcharge   decimal.Decimal
	PrioritySurcharge  decimal.Decimal
	TaxRate            decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		BaseShipping:       decimal.RequireFromString("5.99"),
		PerItemShipping:    decimal.RequireFromString("1.50"),
		MaxAdditionalItems: 5,
		ExpressSurcharge:   decimal.RequireFromString("4.99"),
		PrioritySurcharge:  decimal.RequireFromString("9.99"),
		TaxRate:            decimal.RequireFromString("0.08"),
	}
}

type TotalOptions struct {
	IncludeShipping bool
	IncludeTax      bool
}

func DefaultTotalOptions() TotalOptions {
	return TotalOptions{IncludeShipping: true, IncludeTax: true}
}

type OrderTotal struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

type Quote struct {
	Breakdowns []domain.CheckoutBreakdown `json:"breakdowns"`
	Totals     OrderTotal                 `json:"totals"`
}

// Calculator turns seller groups into payable breakdowns. It keeps full precision;
// amounts are rounded only when formatted or handed to the payment gateway.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Shipping is the default charge for a group holding units items: a flat base plus a
// capped surcharge per extra item.
func (c *Calculator) Shipping(units int) decimal.Decimal {
	extra := units - 1
	if extra < 0 {
		extra = 0
	}
	if extra > c.cfg.MaxAdditionalItems {
		extra = c.cfg.MaxAdditionalItems
	}
	return c.cfg.BaseShipping.Add(c.cfg.PerItemShipping.Mul(decimal.NewFromInt(int64(extra))))
}

// TierShipping is the flat charge of a buyer-selected tier.
func (c *Calculator) TierShipping(tier domain.ShippingTier) (decimal.Decimal, error) {
	switch tier {
	case domain.ShippingStandard:
		return c.cfg.BaseShipping, nil
	case domain.ShippingExpress:
		return c.cfg.BaseShipping.Add(c.cfg.ExpressSurcharge), nil
	case domain.ShippingPriority:
		return c.cfg.BaseShipping.Add(c.cfg.PrioritySurcharge), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownShippingTier, tier)
	}
}

// Tax applies the flat rate to subtotal plus shipping.
func (c *Calculator) Tax(subtotal, shipping decimal.Decimal) decimal.Decimal {
	return subtotal.Add(shipping).Mul(c.cfg.TaxRate)
}

// Breakdown prices one seller group. An empty tier means the default formula.
func (c *Calculator) Breakdown(g domain.SellerGroup, tier domain.ShippingTier) (domain.CheckoutBreakdown, error) {
	shipping := c.Shipping(g.Units())
	if tier != "" {
		s, err := c.TierShipping(tier)
		if err != nil {
			return domain.CheckoutBreakdown{}, err
		}
		shipping = s
	}

	tax := c.Tax(g.Subtotal, shipping)
	return domain.CheckoutBreakdown{
		SellerID:     g.SellerID,
		SellerName:   g.SellerName,
		Subtotal:     g.Subtotal,
		Shipping:     shipping,
		ShippingTier: tier,
		Tax:          tax,
		Total:        domain.Sum(g.Subtotal, shipping, tax),
		Items:        g.Items,
	}, nil
}

// Breakdowns prices every group in order. tiers maps seller ids to selected tiers;
// sellers without an entry use the default formula.
func (c *Calculator) Breakdowns(groups []domain.SellerGroup, tiers map[string]domain.ShippingTier) ([]domain.CheckoutBreakdown, error) {
	if len(groups) == 0 {
		return nil, ErrEmptyCart
	}

	out := make([]domain.CheckoutBreakdown, 0, len(groups))
	for _, g := range groups {
		b, err := c.Breakdown(g, tiers[g.SellerID])
		if err != nil {
			return nil, fmt.Errorf("seller %s: %w", g.SellerID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// OrderTotal sums breakdowns. Tax is always computed on subtotal plus shipping, even
// when shipping itself is left out of the total.
func (c *Calculator) OrderTotal(breakdowns []domain.CheckoutBreakdown, opts TotalOptions) OrderTotal {
	t := OrderTotal{Subtotal: decimal.Zero, Shipping: decimal.Zero, Tax: decimal.Zero}
	for _, b := range breakdowns {
		t.Subtotal = t.Subtotal.Add(b.Subtotal)
		t.Shipping = t.Shipping.Add(b.Shipping)
		t.Tax = t.Tax.Add(b.Tax)
	}

	t.Total = t.Subtotal
	if opts.IncludeShipping {
		t.Total = t.Total.Add(t.Shipping)
	}
	if opts.IncludeTax {
		t.Total = t.Total.Add(t.Tax)
	}
	return t
}

func (c *Calculator) Quote(groups []domain.SellerGroup, tiers map[string]domain.ShippingTier, opts TotalOptions) (Quote, error) {
	breakdowns, err := c.Breakdowns(groups, tiers)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Breakdowns: breakdowns,
		Totals:     c.OrderTotal(breakdowns, opts),
	}, nil
}
