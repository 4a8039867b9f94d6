package fetcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/orderdesk/internal/lineitem"
)

// DetailRecord is one approved or pending line of a parent request as served
// by the details endpoint.
type DetailRecord struct {
	Type        string              `json:"tipo"`
	ReferenceID int64               `json:"referencia_id"`
	Code        string              `json:"codigo"`
	Name        string              `json:"nombre"`
	Category    string              `json:"categoria"`
	Unit        string              `json:"unidad_medida,omitempty"`
	Quantity    decimal.Decimal     `json:"cantidad"`
	UnitPrice   decimal.Decimal     `json:"precio_unitario"`
	RequestID   int64               `json:"solicitud_id"`
	Pending     decimal.NullDecimal `json:"cantidad_pendiente"`
	Stock       decimal.NullDecimal `json:"stock_actual"`
}

type detailsResponse struct {
	Details []DetailRecord `json:"detalles"`
}

// Kind classifies the record. Anything not marked as an asset is a consumable.
func (r DetailRecord) Kind() lineitem.Kind {
	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "activo", "activos", "bien", "bienes", "asset":
		return lineitem.DurableAsset
	default:
		return lineitem.Consumable
	}
}

// Ceiling is the pending quantity when the request reports one, otherwise the stock on hand.
func (r DetailRecord) Ceiling() decimal.NullDecimal {
	if r.Pending.Valid {
		return r.Pending
	}
	return r.Stock
}

// BelongsTo reports whether the record was served for parentID. Records
// without a request id are attributed to whichever request was asked for.
func (r DetailRecord) BelongsTo(parentID int64) bool {
	return r.RequestID == 0 || r.RequestID == parentID
}

// Item converts the record into a line item owned by parentID.
func (r DetailRecord) Item(parentID int64) lineitem.Item {
	owner := parentID
	return lineitem.Item{
		Kind:            r.Kind(),
		ReferenceID:     r.ReferenceID,
		ParentRequestID: &owner,
		Code:            r.Code,
		Name:            r.Name,
		Category:        r.Category,
		Unit:            r.Unit,
		Quantity:        r.Quantity,
		UnitPrice:       r.UnitPrice,
		Discount:        decimal.Zero,
		Ceiling:         r.Ceiling(),
	}
}
