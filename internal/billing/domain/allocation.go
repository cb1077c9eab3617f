package billing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExpenseItem is one named cost line of a monthly definition.
type ExpenseItem struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocation is the result of splitting expenses across apartments.
type Allocation struct {
	Total          decimal.Decimal
	PerApartment   decimal.Decimal
	ApartmentCount int
}

// CurrencyPrecision returns the number of minor-unit digits for currency.
func CurrencyPrecision(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "CLP", "VND":
		return 0
	case "BHD", "KWD", "OMR", "TND":
		return 3
	default:
		return 2
	}
}

// MinorUnit returns the smallest representable amount for currency.
func MinorUnit(currency string) decimal.Decimal {
	return decimal.New(1, -CurrencyPrecision(currency))
}

// SumItems returns the exact sum of item amounts after validating them.
func SumItems(items []ExpenseItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, ErrNoExpenseItems
	}
	total := decimal.Zero
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return decimal.Zero, ErrEmptyItemName
		}
		if item.Amount.IsNegative() {
			return decimal.Zero, ErrNegativeAmount
		}
		total = total.Add(item.Amount)
	}
	return total, nil
}

// Allocate sums items and divides the total evenly, rounding half away
// from zero to the currency precision. The rounding remainder is not
// redistributed.
func Allocate(items []ExpenseItem, apartmentCount int, currency string) (Allocation, error) {
	total, err := SumItems(items)
	if err != nil {
		return Allocation{}, err
	}
	if apartmentCount <= 0 {
		return Allocation{}, ErrNoApartments
	}
	per := total.DivRound(decimal.NewFromInt(int64(apartmentCount)), CurrencyPrecision(currency))
	return Allocation{Total: total, PerApartment: per, ApartmentCount: apartmentCount}, nil
}

// CheckSupplied accepts a caller-supplied per-apartment figure only when it
// is within one minor unit of the computed one.
func (a Allocation) CheckSupplied(supplied *decimal.Decimal, currency string) error {
	if supplied == nil {
		return nil
	}
	if supplied.Sub(a.PerApartment).Abs().GreaterThan(MinorUnit(currency)) {
		return ErrAmountMismatch
	}
	return nil
}
