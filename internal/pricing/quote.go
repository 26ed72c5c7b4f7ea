package pricing

import "github.com/shopspring/decimal"

// Result combines line totals and the tax split
type Result struct {
	Totals
	Tax TaxBreakdown
}

// Calculator runs the totals then tax pipeline used on every create and update
type Calculator struct {
	tax *TaxCalculator
}

func NewCalculator(tax *TaxCalculator) *Calculator {
	return &Calculator{tax: tax}
}

// Tax exposes the underlying tax calculator
func (c *Calculator) Tax() *TaxCalculator {
	return c.tax
}

// Price computes totals and tax in full for the given lines
func (c *Calculator) Price(lines []Line, discountPercentage decimal.Decimal, buyerStateCode string) (Result, error) {
	totals, err := CalculateTotals(lines, discountPercentage)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Totals: totals,
		Tax:    c.tax.Calculate(totals.Subtotal, totals.DiscountAmount, buyerStateCode),
	}, nil
}
