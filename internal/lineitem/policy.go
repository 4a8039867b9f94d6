package lineitem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNonPositiveQuantity is returned for quantities of zero or less.
	ErrNonPositiveQuantity = errors.New("quantity must be positive")
	// ErrFractionalQuantity is returned when a whole quantity is required.
	ErrFractionalQuantity = errors.New("quantity must be a whole number")
	// ErrAboveCeiling is returned when a quantity exceeds stock or the pending amount.
	ErrAboveCeiling = errors.New("quantity exceeds available amount")
	// ErrNegativeAmount is returned for negative prices or discounts.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Flow identifies which form the aggregator backs. The two forms disagree on
// whether consumables accept fractional quantities.
type Flow int

const (
	// FlowOrder backs purchase-order creation: whole quantities only.
	FlowOrder Flow = iota + 1
	// FlowDelivery backs delivery creation: consumables may be fractional.
	FlowDelivery
)

func (f Flow) String() string {
	switch f {
	case FlowOrder:
		return "order"
	case FlowDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// ParseFlow parses a flow name.
func ParseFlow(value string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "order", "purchase_order", "orden_compra":
		return FlowOrder, nil
	case "delivery", "entrega":
		return FlowDelivery, nil
	default:
		return 0, fmt.Errorf("unknown form flow %q", value)
	}
}

// QuantityPolicy describes the quantity domain accepted for a kind in a flow.
type QuantityPolicy struct {
	Fractional bool
}

// PolicyFor returns the quantity policy for kind within flow.
// TODO: confirm with the product owner whether purchase orders should accept
// fractional consumables like deliveries do.
func PolicyFor(flow Flow, kind Kind) QuantityPolicy {
	if kind == Consumable && flow == FlowDelivery {
		return QuantityPolicy{Fractional: true}
	}
	return QuantityPolicy{}
}

// Check validates q against the policy and the optional ceiling.
func (p QuantityPolicy) Check(q decimal.Decimal, ceiling decimal.NullDecimal) error {
	if !q.IsPositive() {
		return ErrNonPositiveQuantity
	}
	if !p.Fractional && !q.Equal(q.Truncate(0)) {
		return ErrFractionalQuantity
	}
	if ceiling.Valid && q.GreaterThan(ceiling.Decimal) {
		return fmt.Errorf("%s > %s: %w", q.String(), ceiling.Decimal.String(), ErrAboveCeiling)
	}
	return nil
}

// CheckAmount validates a unit price or discount.
func CheckAmount(v decimal.Decimal) error {
	if v.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
