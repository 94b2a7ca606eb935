package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/fjod/go_marketplace/internal/cart"
	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

type checkoutFeatureContext struct {
	cart  *cart.Cart
	calc  *Calculator
	tiers map[string]domain.ShippingTier
	quote Quote
	err   error
}

func (c *checkoutFeatureContext) reset() {
	c.cart = cart.New()
	c.calc = NewCalculator(DefaultConfig())
	c.tiers = map[string]domain.ShippingTier{}
	c.quote = Quote{}
	c.err = nil
}

func (c *checkoutFeatureContext) anEmptyCart() error {
	c.cart = cart.New()
	return nil
}

func (c *checkoutFeatureContext) theCartHolds(table *godog.Table) error {
	for i, row := range table.Rows {
		if i == 0 {
			continue // header
		}
		price, err := decimal.NewFromString(row.Cells[3].Value)
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(row.Cells[4].Value)
		if err != nil {
			return err
		}
		in := cart.LineInput{
			ProductID: row.Cells[0].Value,
			ListingID: row.Cells[1].Value,
			SellerID:  row.Cells[2].Value,
			Title:     row.Cells[0].Value,
			UnitPrice: price,
		}
		if _, err := c.cart.Add(in, qty); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkoutFeatureContext) shippingTierIsSelectedForSeller(tier, sellerID string) error {
	t, err := domain.ParseShippingTier(tier)
	if err != nil {
		return err
	}
	c.tiers[sellerID] = t
	return nil
}

func (c *checkoutFeatureContext) theCartTotalIs(want string) error {
	if !c.cart.TotalAmount().Equal(decimal.RequireFromString(want)) {
		return fmt.Errorf("cart total is %s, want %s", c.cart.TotalAmount(), want)
	}
	return nil
}

func (c *checkoutFeatureContext) theCartHasSellerGroups(n int) error {
	if got := len(c.cart.GroupBySeller()); got != n {
		return fmt.Errorf("cart has %d seller groups, want %d", got, n)
	}
	return nil
}

func (c *checkoutFeatureContext) iPriceTheOrder() error {
	c.quote, c.err = c.calc.Quote(c.cart.GroupBySeller(), c.tiers, DefaultTotalOptions())
	return nil
}

func (c *checkoutFeatureContext) iPriceTheOrderWithoutShipping() error {
	c.quote, c.err = c.calc.Quote(c.cart.GroupBySeller(), c.tiers, TotalOptions{IncludeTax: true})
	return nil
}

func (c *checkoutFeatureContext) sellerHasSubtotalShippingAndTax(sellerID, subtotal, shipping, tax string) error {
	if c.err != nil {
		return fmt.Errorf("pricing failed: %w", c.err)
	}
	for _, b := range c.quote.Breakdowns {
		if b.SellerID != sellerID {
			continue
		}
		for _, check := range []struct {
			name      string
			got, want string
		}{
			{"subtotal", b.Subtotal.String(), subtotal},
			{"shipping", b.Shipping.String(), shipping},
			{"tax", b.Tax.String(), tax},
		} {
			if !decimal.RequireFromString(check.got).Equal(decimal.RequireFromString(check.want)) {
				return fmt.Errorf("seller %s %s is %s, want %s", sellerID, check.name, check.got, check.want)
			}
		}
		return nil
	}
	return fmt.Errorf("no breakdown for seller %s", sellerID)
}

func (c *checkoutFeatureContext) theOrderTotalDisplaysAs(want string) error {
	if c.err != nil {
		return fmt.Errorf("pricing failed: %w", c.err)
	}
	if got := domain.FormatMoney(c.quote.Totals.Total); got != want {
		return fmt.Errorf("order total displays as %s, want %s", got, want)
	}
	return nil
}

func (c *checkoutFeatureContext) theBreakdownsAreForSellers(list string) error {
	want := strings.Split(list, ",")
	if len(want) != len(c.quote.Breakdowns) {
		return fmt.Errorf("got %d breakdowns, want %d", len(c.quote.Breakdowns), len(want))
	}
	for i, b := range c.quote.Breakdowns {
		if b.SellerID != want[i] {
			return fmt.Errorf("breakdown %d is for %s, want %s", i, b.SellerID, want[i])
		}
	}
	return nil
}

func (c *checkoutFeatureContext) pricingFailsBecauseTheCartIsEmpty() error {
	if !errors.Is(c.err, ErrEmptyCart) {
		return fmt.Errorf("expected ErrEmptyCart, got %v", c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	fc := &checkoutFeatureContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		fc.reset()
		return ctx, nil
	})

	ctx.Step(`^an empty cart$`, fc.anEmptyCart)
	ctx.Step(`^the cart holds:$`, fc.theCartHolds)
	ctx.Step(`^shipping tier "([^"]*)" is selected for seller "([^"]*)"$`, fc.shippingTierIsSelectedForSeller)

	ctx.Step(`^I price the order$`, fc.iPriceTheOrder)
	ctx.Step(`^I price the order without shipping$`, fc.iPriceTheOrderWithoutShipping)

	ctx.Step(`^the cart total is "([^"]*)"$`, fc.theCartTotalIs)
	ctx.Step(`^the cart has (\d+) seller groups$`, fc.theCartHasSellerGroups)
	ctx.Step(`^seller "([^"]*)" has subtotal "([^"]*)", shipping "([^"]*)" and tax "([^"]*)"$`, fc.sellerHasSubtotalShippingAndTax)
	ctx.Step(`^the order total displays as "([^"]*)"$`, fc.theOrderTotalDisplaysAs)
	ctx.Step(`^the breakdowns are for sellers "([^"]*)"$`, fc.theBreakdownsAreForSellers)
	ctx.Step(`^pricing fails because the cart is empty$`, fc.pricingFailsBecauseTheCartIsEmpty)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
