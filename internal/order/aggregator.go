package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/orderdesk/internal/fetcher"
	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/obs"
	"github.com/noah-isme/orderdesk/internal/presenter"
	"github.com/noah-isme/orderdesk/internal/pricing"
)

var tracer = otel.Tracer("orderdesk/order")

// DetailFetcher loads the lines of parent requests.
type DetailFetcher interface {
	FetchDetails(ctx context.Context, ids []int64) ([]fetcher.DetailRecord, error)
}

// Presenter reflects the aggregator state. *presenter.Table satisfies it.
type Presenter interface {
	Sync(kind lineitem.Kind, items []lineitem.Item) bool
	MarkInvalid(kind lineitem.Kind, index int, reason string) bool
	ClearInvalid(kind lineitem.Kind, index int)
	SetTotals(summary pricing.Summary)
	Snapshot() presenter.View
}

// ToggleState is the selection state of one parent request.
type ToggleState int

const (
	NotSelected ToggleState = iota
	Pending
	Selected
)

func (s ToggleState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Selected:
		return "selected"
	default:
		return "not_selected"
	}
}

type toggle struct {
	state ToggleState
	gen   uint64
}

type fieldKey struct {
	kind  lineitem.Kind
	index int
	field string
}

// Options configures an Aggregator.
type Options struct {
	Flow      lineitem.Flow
	Fetcher   DetailFetcher
	Presenter Presenter
	Logger    *zerolog.Logger
}

// Aggregator owns the line items of one form. All methods are safe for
// concurrent use; the lock is never held across a detail fetch.
type Aggregator struct {
	mu        sync.Mutex
	flow      lineitem.Flow
	store     *lineitem.Store
	fetcher   DetailFetcher
	presenter Presenter
	logger    zerolog.Logger

	requests map[int64]*toggle
	gen      uint64
	invalid  map[fieldKey]FieldError
}

// New constructs an Aggregator. A missing presenter defaults to a fresh table.
func New(opts Options) (*Aggregator, error) {
	if opts.Flow != lineitem.FlowOrder && opts.Flow != lineitem.FlowDelivery {
		return nil, fmt.Errorf("%w: unknown flow", ErrInvalidInput)
	}
	if opts.Fetcher == nil {
		return nil, errors.New("order: detail fetcher not configured")
	}
	p := opts.Presenter
	if p == nil {
		p = presenter.NewTable(presenter.DefaultPlaces)
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "aggregator").Str("flow", opts.Flow.String()).Logger()
	}
	a := &Aggregator{
		flow:      opts.Flow,
		store:     lineitem.NewStore(),
		fetcher:   opts.Fetcher,
		presenter: p,
		logger:    logger,
		requests:  make(map[int64]*toggle),
		invalid:   make(map[fieldKey]FieldError),
	}
	a.refreshLocked()
	return a, nil
}

// Flow returns the form flow.
func (a *Aggregator) Flow() lineitem.Flow {
	return a.flow
}

// Patch lists the fields of one row edit. Nil fields keep their value.
type Patch struct {
	Quantity  *decimal.Decimal
	UnitPrice *decimal.Decimal
	Discount  *decimal.Decimal
}

type patchField struct {
	name  string
	value *decimal.Decimal
}

func (p Patch) fields() []patchField {
	return []patchField{
		{FieldQuantity, p.Quantity},
		{FieldUnitPrice, p.UnitPrice},
		{FieldDiscount, p.Discount},
	}
}

func (p Patch) empty() bool {
	return p.Quantity == nil && p.UnitPrice == nil && p.Discount == nil
}

// check returns a FieldError for every supplied field of p that it cannot accept.
func (a *Aggregator) check(p Patch, it lineitem.Item) []FieldError {
	var failures []FieldError
	for _, f := range p.fields() {
		if f.value == nil {
			continue
		}
		var err error
		if f.name == FieldQuantity {
			err = lineitem.PolicyFor(a.flow, it.Kind).Check(*f.value, it.Ceiling)
		} else {
			err = lineitem.CheckAmount(*f.value)
		}
		if err != nil {
			failures = append(failures, newFieldError(it.Kind, it.Index, f.name, f.value.String(), err))
		}
	}
	return failures
}

// AddManual adds a catalog entry picked by the user. The quantity must be
// positive and satisfy the flow policy and ceiling; every offending field is
// reported in one ValidationError.
func (a *Aggregator) AddManual(item lineitem.Item) (lineitem.Item, error) {
	item.Index = 0
	item.ParentRequestID = nil
	q, price, discount := item.Quantity, item.UnitPrice, item.Discount
	if failures := a.check(Patch{Quantity: &q, UnitPrice: &price, Discount: &discount}, item); len(failures) > 0 {
		for _, fe := range failures {
			countValidation(fe.cause)
		}
		return lineitem.Item{}, &ValidationError{Fields: failures}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	added, err := a.store.Add(item)
	if err != nil {
		return lineitem.Item{}, err
	}
	a.refreshLocked()
	return added, nil
}

// RemoveManual deletes a user-picked item. Removing an absent index is a
// no-op; items imported from a parent request are refused.
func (a *Aggregator) RemoveManual(kind lineitem.Kind, index int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	it, ok := a.store.Get(kind, index)
	if !ok {
		return false, nil
	}
	if !it.Manual() {
		return false, fmt.Errorf("%s #%d: %w", kind, index, lineitem.ErrParentOwned)
	}
	a.store.Remove(kind, index)
	a.pruneInvalidLocked()
	a.refreshLocked()
	return true, nil
}

// SetQuantity edits the quantity of a row. A value violating the flow
// policy or the ceiling flags the row and leaves the store untouched.
func (a *Aggregator) SetQuantity(kind lineitem.Kind, index int, q decimal.Decimal) (lineitem.Item, error) {
	return a.Edit(kind, index, Patch{Quantity: &q})
}

// SetUnitPrice edits the unit price of a row.
func (a *Aggregator) SetUnitPrice(kind lineitem.Kind, index int, price decimal.Decimal) (lineitem.Item, error) {
	return a.Edit(kind, index, Patch{UnitPrice: &price})
}

// SetDiscount edits the discount of a row. A discount above the gross value
// is accepted and yields a negative subtotal.
func (a *Aggregator) SetDiscount(kind lineitem.Kind, index int, discount decimal.Decimal) (lineitem.Item, error) {
	return a.Edit(kind, index, Patch{Discount: &discount})
}

// Edit applies every field of p to a row, or none of them. Each rejected
// field is flagged on the row and the store and totals keep their previous
// values.
func (a *Aggregator) Edit(kind lineitem.Kind, index int, p Patch) (lineitem.Item, error) {
	if p.empty() {
		return lineitem.Item{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	updated, err := a.store.Update(kind, index, func(it *lineitem.Item) error {
		if failures := a.check(p, *it); len(failures) > 0 {
			return &ValidationError{Fields: failures}
		}
		if p.Quantity != nil {
			it.Quantity = *p.Quantity
		}
		if p.UnitPrice != nil {
			it.UnitPrice = *p.UnitPrice
		}
		if p.Discount != nil {
			it.Discount = *p.Discount
		}
		return nil
	})
	var verr *ValidationError
	switch {
	case err == nil:
		for _, f := range p.fields() {
			if f.value != nil {
				delete(a.invalid, fieldKey{kind: kind, index: index, field: f.name})
			}
		}
		a.refreshLocked()
		return updated, nil
	case !errors.As(err, &verr):
		return lineitem.Item{}, err
	}

	for _, fe := range verr.Fields {
		countValidation(fe.cause)
		a.invalid[fieldKey{kind: kind, index: index, field: fe.Field}] = fe
		a.logger.Debug().Str("field", fe.Field).Int("index", index).Str("kind", kind.String()).Err(fe.cause).Msg("edit rejected")
	}
	a.refreshLocked()
	return lineitem.Item{}, verr
}

// SelectRequest imports the lines of a parent request. Selecting a request
// that is already selected is a no-op. While its fetch is outstanding a
// second toggle of the same request fails with ErrToggleInProgress. A fetch
// failure or a duplicate line leaves the store unchanged and the request
// not selected.
func (a *Aggregator) SelectRequest(ctx context.Context, id int64) ([]lineitem.Item, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: request id must be positive", ErrInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "order.select_request")
	defer span.End()
	span.SetAttributes(attribute.Int64("request.id", id), attribute.String("form.flow", a.flow.String()))

	a.mu.Lock()
	if t, ok := a.requests[id]; ok {
		a.mu.Unlock()
		if t.state == Pending {
			return nil, fmt.Errorf("request %d: %w", id, ErrToggleInProgress)
		}
		return nil, nil
	}
	a.gen++
	gen := a.gen
	a.requests[id] = &toggle{state: Pending, gen: gen}
	a.mu.Unlock()

	records, fetchErr := a.fetcher.FetchDetails(ctx, []int64{id})

	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.requests[id]
	if !ok || t.gen != gen || t.state != Pending {
		a.logger.Info().Int64("request_id", id).Msg("discarding stale detail response")
		span.SetStatus(codes.Error, "stale")
		return nil, fmt.Errorf("request %d: %w", id, ErrSelectionChanged)
	}
	if fetchErr != nil {
		delete(a.requests, id)
		span.RecordError(fetchErr)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fetchErr
	}

	items := make([]lineitem.Item, 0, len(records))
	for _, rec := range records {
		if !rec.BelongsTo(id) {
			a.logger.Warn().Int64("request_id", id).Int64("record_request_id", rec.RequestID).Msg("ignoring detail of another request")
			continue
		}
		items = append(items, rec.Item(id))
	}
	added, err := a.store.AddAll(items)
	if err != nil {
		delete(a.requests, id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "import rejected")
		return nil, err
	}
	t.state = Selected
	a.refreshLocked()
	span.SetAttributes(attribute.Int("request.lines", len(added)))
	a.logger.Info().Int64("request_id", id).Int("lines", len(added)).Msg("parent request selected")
	return added, nil
}

// DeselectRequest removes every line imported from the request and returns
// how many were removed. Deselecting during a fetch discards its result.
func (a *Aggregator) DeselectRequest(id int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.requests[id]
	if !ok {
		return 0
	}
	delete(a.requests, id)
	if t.state != Selected {
		return 0
	}
	removed := a.store.RemoveByParent(id)
	a.pruneInvalidLocked()
	a.refreshLocked()
	a.logger.Info().Int64("request_id", id).Int("lines", removed).Msg("parent request deselected")
	return removed
}

// RequestState reports the toggle state of a parent request.
func (a *Aggregator) RequestState(id int64) ToggleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.requests[id]; ok {
		return t.state
	}
	return NotSelected
}

// SelectedRequests lists the selected parent requests in ascending order.
func (a *Aggregator) SelectedRequests() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int64, 0, len(a.requests))
	for id, t := range a.requests {
		if t.state == Selected {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Items returns the current lines of kind in insertion order.
func (a *Aggregator) Items(kind lineitem.Kind) []lineitem.Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.List(kind)
}

// Totals recomputes the totals from the current lines.
func (a *Aggregator) Totals() pricing.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return pricing.Totals(a.store.All())
}

// View returns the presenter snapshot.
func (a *Aggregator) View() presenter.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.presenter.Snapshot()
}

func (a *Aggregator) refreshLocked() {
	for _, kind := range lineitem.Kinds() {
		items := a.store.List(kind)
		a.presenter.Sync(kind, items)
		for _, it := range items {
			if reason := a.rowReasonLocked(kind, it.Index); reason != "" {
				a.presenter.MarkInvalid(kind, it.Index, reason)
			} else {
				a.presenter.ClearInvalid(kind, it.Index)
			}
		}
	}
	a.presenter.SetTotals(pricing.Totals(a.store.All()))
}

func (a *Aggregator) rowReasonLocked(kind lineitem.Kind, index int) string {
	reason := ""
	for _, field := range []string{FieldQuantity, FieldUnitPrice, FieldDiscount} {
		fe, ok := a.invalid[fieldKey{kind: kind, index: index, field: field}]
		if !ok {
			continue
		}
		if reason != "" {
			reason += "; "
		}
		reason += fe.Field + ": " + fe.Reason
	}
	return reason
}

func (a *Aggregator) pruneInvalidLocked() {
	for k := range a.invalid {
		if _, ok := a.store.Get(k.kind, k.index); !ok {
			delete(a.invalid, k)
		}
	}
}

func countValidation(err error) {
	if obs.ValidationFailuresTotal != nil {
		obs.ValidationFailuresTotal.WithLabelValues(reasonLabel(err)).Inc()
	}
}
