// Package pricing computes order totals from catalog snapshots.
//
// Every amount shown to a customer or sent to the payment gateway goes through
// Round and ToMinorUnits so that order rows, rendered totals, and checkout
// line items never disagree by a cent.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const scale = 2

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidDiscount = errors.New("discount percentage must be between 0 and 100")
	ErrNegativePrice   = errors.New("price must not be negative")
	ErrNoLines         = errors.New("at least one line is required")
)

var hundred = decimal.NewFromInt(100)

type Settings struct {
	TaxRate      decimal.Decimal
	ShippingCost decimal.Decimal
}

// Line is one priced entry: a catalog snapshot and the quantity ordered.
type Line struct {
	BookID             int64
	Title              string
	Price              decimal.Decimal
	DiscountPercentage decimal.Decimal
	Quantity           int
}

type LineTotal struct {
	Line
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

type Totals struct {
	Lines        []LineTotal
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
	ShippingCost decimal.Decimal
	TotalAmount  decimal.Decimal
}

// Round rounds half away from zero to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(scale)
}

// ToMinorUnits converts a currency amount into integer cents.
func ToMinorUnits(d decimal.Decimal) int64 {
	return Round(d).Mul(decimal.New(1, scale)).IntPart()
}

// UnitPrice is the discounted price of a single copy.
func UnitPrice(price, discountPercentage decimal.Decimal) (decimal.Decimal, error) {
	if price.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}
	if discountPercentage.IsNegative() || discountPercentage.GreaterThan(hundred) {
		return decimal.Zero, ErrInvalidDiscount
	}
	factor := hundred.Sub(discountPercentage).Div(hundred)
	return Round(price.Mul(factor)), nil
}

func Calculate(settings Settings, lines []Line) (*Totals, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}

	totals := &Totals{
		Lines:        make([]LineTotal, 0, len(lines)),
		Subtotal:     decimal.Zero,
		ShippingCost: Round(settings.ShippingCost),
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("book %d: %w", line.BookID, ErrInvalidQuantity)
		}

		unit, err := UnitPrice(line.Price, line.DiscountPercentage)
		if err != nil {
			return nil, fmt.Errorf("book %d: %w", line.BookID, err)
		}

		lineTotal := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
		totals.Lines = append(totals.Lines, LineTotal{Line: line, UnitPrice: unit, Total: lineTotal})
		totals.Subtotal = totals.Subtotal.Add(lineTotal)
	}

	totals.TaxAmount = Round(totals.Subtotal.Mul(settings.TaxRate))
	totals.TotalAmount = totals.Subtotal.Add(totals.TaxAmount).Add(totals.ShippingCost)

	return totals, nil
}
