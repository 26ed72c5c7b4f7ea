package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TaxBreakdown is the GST split for a taxable amount
type TaxBreakdown struct {
	TaxableAmount decimal.Decimal
	Rate          decimal.Decimal
	IntraState    bool
	CGST          decimal.Decimal
	SGST          decimal.Decimal
	IGST          decimal.Decimal
	TotalTax      decimal.Decimal
	Total         decimal.Decimal
}

// TaxCalculator splits GST into CGST/SGST for buyers in the seller's home state
// and IGST for everyone else, including buyers with no state code.
type TaxCalculator struct {
	homeStateCode string
	rate          decimal.Decimal
}

// NewTaxCalculator creates a calculator for a seller registered in homeStateCode.
// ratePercent is the combined GST rate, e.g. 18.
func NewTaxCalculator(homeStateCode string, ratePercent decimal.Decimal) *TaxCalculator {
	return &TaxCalculator{
		homeStateCode: normalizeStateCode(homeStateCode),
		rate:          ratePercent,
	}
}

// Rate returns the combined GST rate in percent
func (c *TaxCalculator) Rate() decimal.Decimal {
	return c.rate
}

// HomeStateCode returns the seller's normalized state code
func (c *TaxCalculator) HomeStateCode() string {
	return c.homeStateCode
}

// IsIntraState reports whether buyerStateCode matches the seller's home state
func (c *TaxCalculator) IsIntraState(buyerStateCode string) bool {
	buyer := normalizeStateCode(buyerStateCode)
	return buyer != "" && c.homeStateCode != "" && buyer == c.homeStateCode
}

// Calculate computes the tax split on subtotal − discount for the given buyer
func (c *TaxCalculator) Calculate(subtotal, discountAmount decimal.Decimal, buyerStateCode string) TaxBreakdown {
	taxable := subtotal.Sub(discountAmount)
	b := TaxBreakdown{
		TaxableAmount: taxable,
		Rate:          c.rate,
		IntraState:    c.IsIntraState(buyerStateCode),
		CGST:          decimal.Zero,
		SGST:          decimal.Zero,
		IGST:          decimal.Zero,
	}

	if b.IntraState {
		half := c.rate.Div(decimal.NewFromInt(2))
		b.CGST = taxable.Mul(half).Div(hundred).Round(moneyScale)
		b.SGST = b.CGST
	} else {
		b.IGST = taxable.Mul(c.rate).Div(hundred).Round(moneyScale)
	}

	b.TotalTax = b.CGST.Add(b.SGST).Add(b.IGST)
	b.Total = subtotal.Sub(discountAmount).Add(b.TotalTax)
	return b
}

// normalizeStateCode trims, upper-cases and drops leading zeros of numeric GST state codes
func normalizeStateCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return code
		}
	}
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
