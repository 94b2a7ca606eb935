package domain

import "github.com/shopspring/decimal"

// Currency is the single settlement currency of the storefront.
const Currency = "USD"

// FormatMoney renders an amount with two decimal places. Amounts are kept exact
// everywhere else; this is the only place rounding to cents happens for display.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// RoundMoney rounds to cents. Used when an amount leaves the core (payment boundary).
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Sum adds amounts without intermediate rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
