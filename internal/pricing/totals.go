// Package pricing computes quotation totals and GST breakdowns.
// Everything here is pure: no persistence, no clock.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
)

// Money values are kept at two decimal places
const moneyScale = 2

var (
	hundred = decimal.NewFromInt(100)

	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than zero", domain.ErrInvalidAmount)
	ErrInvalidRate     = fmt.Errorf("%w: unit rate must not be negative", domain.ErrInvalidAmount)
	ErrInvalidDiscount = fmt.Errorf("%w: discount percentage must be between 0 and 100", domain.ErrInvalidAmount)
	ErrNoLineItems     = fmt.Errorf("%w: at least one line item is required", domain.ErrInvalidAmount)
)

// Line is the priced part of a line item
type Line struct {
	Quantity decimal.Decimal
	UnitRate decimal.Decimal
}

// Totals is the output of CalculateTotals
type Totals struct {
	LineAmounts    []decimal.Decimal
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
}

// LineAmount returns quantity × rate rounded to money scale
func LineAmount(l Line) decimal.Decimal {
	return l.Quantity.Mul(l.UnitRate).Round(moneyScale)
}

// ValidateLine checks a single line's quantity and rate
func ValidateLine(l Line) error {
	if !l.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if l.UnitRate.IsNegative() {
		return ErrInvalidRate
	}
	return nil
}

// ValidateDiscount checks that pct is within [0, 100]
func ValidateDiscount(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return ErrInvalidDiscount
	}
	return nil
}

// CalculateTotals sums line amounts and applies the percentage discount.
// Line amounts are always recomputed from quantity and rate.
func CalculateTotals(lines []Line, discountPercentage decimal.Decimal) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrNoLineItems
	}
	if err := ValidateDiscount(discountPercentage); err != nil {
		return Totals{}, err
	}

	totals := Totals{
		LineAmounts: make([]decimal.Decimal, len(lines)),
		Subtotal:    decimal.Zero,
	}
	for i, l := range lines {
		if err := ValidateLine(l); err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		amount := LineAmount(l)
		totals.LineAmounts[i] = amount
		totals.Subtotal = totals.Subtotal.Add(amount)
	}
	totals.DiscountAmount = totals.Subtotal.Mul(discountPercentage).Div(hundred).Round(moneyScale)

	return totals, nil
}
