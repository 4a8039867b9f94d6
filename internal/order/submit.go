package order

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/obs"
	"github.com/noah-isme/orderdesk/internal/pricing"
)

// consumableLine is the serialized form of a consumable on submit. Amounts
// are written as JSON numbers, the way the page script always sent them.
type consumableLine struct {
	ArticleID int64       `json:"articulo_id"`
	Quantity  json.Number `json:"cantidad"`
	UnitPrice json.Number `json:"precio_unitario"`
	Discount  json.Number `json:"descuento"`
	Subtotal  json.Number `json:"subtotal"`
	RequestID *int64      `json:"solicitud_id,omitempty"`
}

// assetLine is the serialized form of a durable asset on submit.
type assetLine struct {
	AssetID   int64       `json:"activo_id"`
	Quantity  json.Number `json:"cantidad"`
	UnitPrice json.Number `json:"precio_unitario"`
	Discount  json.Number `json:"descuento"`
	Subtotal  json.Number `json:"subtotal"`
	RequestID *int64      `json:"solicitud_id,omitempty"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// FormPayload carries the two hidden-field values written on submit.
type FormPayload struct {
	Consumables string `json:"consumables"`
	Assets      string `json:"assets"`
}

// Fields maps the payload onto the configured hidden-field names.
func (p FormPayload) Fields(consumablesField, assetsField string) map[string]string {
	return map[string]string{
		consumablesField: p.Consumables,
		assetsField:      p.Assets,
	}
}

// Submit validates every line and serializes the form. All offending rows are
// reported in a single ValidationError; the store is never modified.
func (a *Aggregator) Submit(ctx context.Context) (FormPayload, error) {
	_, span := tracer.Start(ctx, "order.submit")
	defer span.End()
	span.SetAttributes(attribute.String("form.flow", a.flow.String()))

	a.mu.Lock()
	defer a.mu.Unlock()

	items := a.store.All()
	if fields := a.validateLocked(items); len(fields) > 0 {
		countSubmission(a.flow, "invalid")
		span.SetStatus(codes.Error, "validation failed")
		return FormPayload{}, &ValidationError{Fields: fields}
	}

	consumables := make([]consumableLine, 0, len(items))
	assets := make([]assetLine, 0, len(items))
	for _, it := range items {
		sub := pricing.LineSubtotal(it)
		switch it.Kind {
		case lineitem.Consumable:
			consumables = append(consumables, consumableLine{
				ArticleID: it.ReferenceID, Quantity: number(it.Quantity), UnitPrice: number(it.UnitPrice),
				Discount: number(it.Discount), Subtotal: number(sub), RequestID: it.ParentRequestID,
			})
		case lineitem.DurableAsset:
			assets = append(assets, assetLine{
				AssetID: it.ReferenceID, Quantity: number(it.Quantity), UnitPrice: number(it.UnitPrice),
				Discount: number(it.Discount), Subtotal: number(sub), RequestID: it.ParentRequestID,
			})
		}
	}
	cBytes, err := json.Marshal(consumables)
	if err != nil {
		countSubmission(a.flow, "error")
		return FormPayload{}, fmt.Errorf("encode consumables: %w", err)
	}
	aBytes, err := json.Marshal(assets)
	if err != nil {
		countSubmission(a.flow, "error")
		return FormPayload{}, fmt.Errorf("encode assets: %w", err)
	}
	countSubmission(a.flow, "ok")
	span.SetAttributes(attribute.Int("form.consumables", len(consumables)), attribute.Int("form.assets", len(assets)))
	return FormPayload{Consumables: string(cBytes), Assets: string(aBytes)}, nil
}

func (a *Aggregator) validateLocked(items []lineitem.Item) []FieldError {
	if len(items) == 0 {
		return []FieldError{{Field: FieldItems, Reason: "at least one line item is required"}}
	}
	var out []FieldError
	for _, it := range items {
		q, price, discount := it.Quantity, it.UnitPrice, it.Discount
		stored := a.check(Patch{Quantity: &q, UnitPrice: &price, Discount: &discount}, it)
		for _, field := range []string{FieldQuantity, FieldUnitPrice, FieldDiscount} {
			if fe, ok := a.invalid[fieldKey{kind: it.Kind, index: it.Index, field: field}]; ok {
				out = append(out, fe)
				continue
			}
			for _, fe := range stored {
				if fe.Field == field {
					out = append(out, fe)
				}
			}
		}
	}
	return out
}

func countSubmission(flow lineitem.Flow, result string) {
	if obs.FormSubmissionsTotal != nil {
		obs.FormSubmissionsTotal.WithLabelValues(flow.String(), result).Inc()
	}
}
