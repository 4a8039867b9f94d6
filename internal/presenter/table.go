package presenter

import (
	"slices"

	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/pricing"
)

// DefaultPlaces is the number of decimals used for amounts on screen.
const DefaultPlaces = 2

// Row is the display state of one line item.
type Row struct {
	Kind            lineitem.Kind `json:"kind"`
	Index           int           `json:"index"`
	ReferenceID     int64         `json:"reference_id"`
	ParentRequestID *int64        `json:"parent_request_id,omitempty"`
	Code            string        `json:"code"`
	Name            string        `json:"name"`
	Category        string        `json:"category,omitempty"`
	Unit            string        `json:"unit,omitempty"`
	Quantity        string        `json:"quantity"`
	UnitPrice       string        `json:"unit_price"`
	Discount        string        `json:"discount"`
	Subtotal        string        `json:"subtotal"`
	Ceiling         string        `json:"ceiling,omitempty"`
	Removable       bool          `json:"removable"`
	Invalid         bool          `json:"invalid"`
	Reason          string        `json:"reason,omitempty"`
}

func (r Row) equal(o Row) bool {
	if (r.ParentRequestID == nil) != (o.ParentRequestID == nil) {
		return false
	}
	if r.ParentRequestID != nil && *r.ParentRequestID != *o.ParentRequestID {
		return false
	}
	a, b := r, o
	a.ParentRequestID, b.ParentRequestID = nil, nil
	return a == b
}

// Totals holds the formatted per-kind and grand totals.
type Totals struct {
	Consumables string `json:"consumables"`
	Assets      string `json:"assets"`
	Grand       string `json:"grand"`
}

// View is a point-in-time copy of the whole table.
type View struct {
	Consumables []Row  `json:"consumables"`
	Assets      []Row  `json:"assets"`
	Totals      Totals `json:"totals"`
	Version     uint64 `json:"version"`
}

// Table mirrors the store as display rows. It never decides what is valid;
// callers flag rows and it reflects the flags. Not safe for concurrent use.
type Table struct {
	places  int32
	rows    map[lineitem.Kind][]Row
	totals  Totals
	version uint64
}

// NewTable constructs an empty table rendering amounts with places decimals.
func NewTable(places int32) *Table {
	if places < 0 {
		places = DefaultPlaces
	}
	zero := pricing.Format(pricing.Totals(nil).Grand, places)
	return &Table{
		places: places,
		rows:   make(map[lineitem.Kind][]Row, 2),
		totals: Totals{Consumables: zero, Assets: zero, Grand: zero},
	}
}

// Sync makes the rows for kind exactly items, in order. Invalid flags survive
// for rows that are still present. It reports whether anything visible changed.
func (t *Table) Sync(kind lineitem.Kind, items []lineitem.Item) bool {
	current := t.rows[kind]
	flags := make(map[int]string, len(current))
	for _, row := range current {
		if row.Invalid {
			flags[row.Index] = row.Reason
		}
	}
	next := make([]Row, 0, len(items))
	for _, it := range items {
		if it.Kind != kind {
			continue
		}
		row := t.render(it)
		if reason, ok := flags[it.Index]; ok {
			row.Invalid = true
			row.Reason = reason
		}
		next = append(next, row)
	}
	if slices.EqualFunc(current, next, Row.equal) {
		return false
	}
	t.rows[kind] = next
	t.version++
	return true
}

func (t *Table) render(it lineitem.Item) Row {
	row := Row{
		Kind:        it.Kind,
		Index:       it.Index,
		ReferenceID: it.ReferenceID,
		Code:        it.Code,
		Name:        it.Name,
		Category:    it.Category,
		Unit:        it.Unit,
		Quantity:    it.Quantity.String(),
		UnitPrice:   pricing.Format(it.UnitPrice, t.places),
		Discount:    pricing.Format(it.Discount, t.places),
		Subtotal:    pricing.Format(pricing.LineSubtotal(it), t.places),
		Removable:   it.Manual(),
	}
	if it.ParentRequestID != nil {
		id := *it.ParentRequestID
		row.ParentRequestID = &id
	}
	if it.Ceiling.Valid {
		row.Ceiling = it.Ceiling.Decimal.String()
	}
	return row
}

// MarkInvalid flags the row with reason. It reports false when no such row exists.
func (t *Table) MarkInvalid(kind lineitem.Kind, index int, reason string) bool {
	rows := t.rows[kind]
	for i := range rows {
		if rows[i].Index != index {
			continue
		}
		if !rows[i].Invalid || rows[i].Reason != reason {
			rows[i].Invalid = true
			rows[i].Reason = reason
			t.version++
		}
		return true
	}
	return false
}

// ClearInvalid removes the flag from the row, if any.
func (t *Table) ClearInvalid(kind lineitem.Kind, index int) {
	rows := t.rows[kind]
	for i := range rows {
		if rows[i].Index == index && rows[i].Invalid {
			rows[i].Invalid = false
			rows[i].Reason = ""
			t.version++
			return
		}
	}
}

// Invalid lists every flagged row, consumables first.
func (t *Table) Invalid() []Row {
	var out []Row
	for _, kind := range lineitem.Kinds() {
		for _, row := range t.rows[kind] {
			if row.Invalid {
				out = append(out, row)
			}
		}
	}
	return out
}

// SetTotals replaces the displayed totals.
func (t *Table) SetTotals(summary pricing.Summary) {
	next := Totals{
		Consumables: pricing.Format(summary.For(lineitem.Consumable), t.places),
		Assets:      pricing.Format(summary.For(lineitem.DurableAsset), t.places),
		Grand:       pricing.Format(summary.Grand, t.places),
	}
	if next != t.totals {
		t.totals = next
		t.version++
	}
}

// Rows returns a copy of the rows for kind.
func (t *Table) Rows(kind lineitem.Kind) []Row {
	return slices.Clone(t.rows[kind])
}

// Version increases on every visible change.
func (t *Table) Version() uint64 {
	return t.version
}

// Snapshot copies the current display state.
func (t *Table) Snapshot() View {
	consumables := t.Rows(lineitem.Consumable)
	if consumables == nil {
		consumables = []Row{}
	}
	assets := t.Rows(lineitem.DurableAsset)
	if assets == nil {
		assets = []Row{}
	}
	return View{
		Consumables: consumables,
		Assets:      assets,
		Totals:      t.totals,
		Version:     t.version,
	}
}
