package lineitem

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind tags a line item as a stock-tracked consumable or a discretely counted asset.
type Kind int

const (
	// Consumable is an article measured in a divisible unit.
	Consumable Kind = iota + 1
	// DurableAsset is equipment counted one by one.
	DurableAsset
)

// Kinds lists every kind in display order.
func Kinds() []Kind {
	return []Kind{Consumable, DurableAsset}
}

func (k Kind) String() string {
	switch k {
	case Consumable:
		return "consumable"
	case DurableAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == Consumable || k == DurableAsset
}

// ParseKind accepts the English names used by the API and the Spanish ones
// used by the warehouse endpoints.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "consumable", "articulo", "articulos", "article":
		return Consumable, nil
	case "asset", "durable_asset", "activo", "activos", "bien", "bienes":
		return DurableAsset, nil
	default:
		return 0, fmt.Errorf("unknown line item kind %q", value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid line item kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Item is one row of the order. The subtotal is never stored; see pricing.Subtotal.
type Item struct {
	Index           int
	Kind            Kind
	ReferenceID     int64
	ParentRequestID *int64
	Code            string
	Name            string
	Category        string
	Unit            string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	Discount        decimal.Decimal
	Ceiling         decimal.NullDecimal
}

// Manual reports whether the item was picked by the user rather than imported from a request.
func (it Item) Manual() bool {
	return it.ParentRequestID == nil
}

// BelongsTo reports whether the item was imported from the given parent request.
func (it Item) BelongsTo(parentID int64) bool {
	return it.ParentRequestID != nil && *it.ParentRequestID == parentID
}

type key struct {
	kind Kind
	ref  int64
}

func (it Item) key() key {
	return key{kind: it.Kind, ref: it.ReferenceID}
}
