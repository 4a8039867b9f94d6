package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/orderdesk/internal/lineitem"
)

// Summary aggregates line subtotals per kind and overall.
type Summary struct {
	PerKind map[lineitem.Kind]decimal.Decimal
	Grand   decimal.Decimal
}

// For returns the total for kind, zero when no line of that kind exists.
func (s Summary) For(kind lineitem.Kind) decimal.Decimal {
	if v, ok := s.PerKind[kind]; ok {
		return v
	}
	return decimal.Zero
}

// Subtotal computes quantity*unitPrice - discount. The result is not clamped:
// a discount above the gross value yields a negative subtotal.
func Subtotal(quantity, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Sub(discount)
}

// LineSubtotal is Subtotal applied to an item.
func LineSubtotal(it lineitem.Item) decimal.Decimal {
	return Subtotal(it.Quantity, it.UnitPrice, it.Discount)
}

// Totals recomputes every subtotal from scratch.
func Totals(items []lineitem.Item) Summary {
	summary := Summary{
		PerKind: make(map[lineitem.Kind]decimal.Decimal, 2),
		Grand:   decimal.Zero,
	}
	for _, kind := range lineitem.Kinds() {
		summary.PerKind[kind] = decimal.Zero
	}
	for _, it := range items {
		sub := LineSubtotal(it)
		summary.PerKind[it.Kind] = summary.For(it.Kind).Add(sub)
	}
	for _, kind := range lineitem.Kinds() {
		summary.Grand = summary.Grand.Add(summary.PerKind[kind])
	}
	return summary
}

// Format renders an amount with a fixed number of decimals for display.
func Format(amount decimal.Decimal, places int32) string {
	if places < 0 {
		places = 0
	}
	return amount.StringFixed(places)
}
