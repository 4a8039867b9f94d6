package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/orderdesk/internal/common"
	"github.com/noah-isme/orderdesk/internal/export"
	"github.com/noah-isme/orderdesk/internal/fetcher"
	"github.com/noah-isme/orderdesk/internal/lineitem"
	"github.com/noah-isme/orderdesk/internal/presenter"
)

// HandlerConfig wires the form handlers.
type HandlerConfig struct {
	Registry         *Registry
	Validate         *validator.Validate
	DefaultFlow      lineitem.Flow
	ConsumablesField string
	AssetsField      string
}

// Handler exposes form sessions over HTTP.
type Handler struct {
	registry         *Registry
	validate         *validator.Validate
	defaultFlow      lineitem.Flow
	consumablesField string
	assetsField      string
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validate
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	flow := cfg.DefaultFlow
	if flow == 0 {
		flow = lineitem.FlowOrder
	}
	cf, af := cfg.ConsumablesField, cfg.AssetsField
	if cf == "" {
		cf = "detalles_articulos"
	}
	if af == "" {
		af = "detalles_activos"
	}
	return &Handler{registry: cfg.Registry, validate: v, defaultFlow: flow, consumablesField: cf, assetsField: af}
}

// Routes mounts the form endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/forms", h.Create)
	r.Route("/forms/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Discard)
		r.Post("/items", h.AddItem)
		r.Delete("/items/{kind}/{index}", h.RemoveItem)
		r.Patch("/items/{kind}/{index}", h.EditItem)
		r.Put("/requests/{requestID}", h.SelectRequest)
		r.Delete("/requests/{requestID}", h.DeselectRequest)
		r.Post("/submit", h.Submit)
		r.Get("/export.xlsx", h.Export)
	})
}

type createRequest struct {
	Flow string `json:"flow" validate:"omitempty,oneof=order purchase_order orden_compra delivery entrega"`
}

type addItemRequest struct {
	Kind        string           `json:"kind" validate:"required"`
	ReferenceID int64            `json:"reference_id" validate:"required,gt=0"`
	Code        string           `json:"code" validate:"max=64"`
	Name        string           `json:"name" validate:"required,max=255"`
	Category    string           `json:"category" validate:"max=255"`
	Unit        string           `json:"unit" validate:"max=32"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Discount    *decimal.Decimal `json:"discount"`
	Ceiling     *decimal.Decimal `json:"ceiling"`
}

type editItemRequest struct {
	Quantity  *decimal.Decimal `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Discount  *decimal.Decimal `json:"discount"`
}

type formResponse struct {
	ID               string         `json:"id"`
	Flow             string         `json:"flow"`
	SelectedRequests []int64        `json:"selected_requests"`
	View             presenter.View `json:"view"`
}

// Create opens a new form session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createRequest
	if err := h.decode(r, &payload, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	flow := h.defaultFlow
	if payload.Flow != "" {
		parsed, err := lineitem.ParseFlow(payload.Flow)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidInput, err))
			return
		}
		flow = parsed
	}
	id, agg, err := h.registry.Create(flow)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.form(id, agg)})
}

// Get returns the current rows and totals of a form.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.form(id, agg)})
}

// Discard closes a form session.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Discard(chi.URLParam(r, "id")) {
		h.writeError(w, r, ErrFormNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem adds a manually picked catalog entry. An omitted quantity means one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var payload addItemRequest
	if err := h.decode(r, &payload, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	kind, err := lineitem.ParseKind(payload.Kind)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}
	item := lineitem.Item{
		Kind:        kind,
		ReferenceID: payload.ReferenceID,
		Code:        strings.TrimSpace(payload.Code),
		Name:        strings.TrimSpace(payload.Name),
		Category:    strings.TrimSpace(payload.Category),
		Unit:        strings.TrimSpace(payload.Unit),
		Quantity:    valueOr(payload.Quantity, decimal.NewFromInt(1)),
		UnitPrice:   valueOr(payload.UnitPrice, decimal.Zero),
		Discount:    valueOr(payload.Discount, decimal.Zero),
	}
	if payload.Ceiling != nil {
		item.Ceiling = decimal.NewNullDecimal(*payload.Ceiling)
	}
	if _, err := agg.AddManual(item); err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.form(id, agg)})
}

// RemoveItem removes a manually added line. Unknown indexes are a no-op.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	kind, index, err := rowParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	removed, err := agg.RemoveManual(kind, index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"removed": removed, "form": h.form(id, agg)},
	})
}

// EditItem applies quantity, unit price and discount edits to a line as one
// change: when any field is rejected none is applied.
func (h *Handler) EditItem(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	kind, index, err := rowParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload editItemRequest
	if err := h.decode(r, &payload, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	patch := Patch{Quantity: payload.Quantity, UnitPrice: payload.UnitPrice, Discount: payload.Discount}
	if _, err := agg.Edit(kind, index, patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.form(id, agg)})
}

// SelectRequest imports the lines of a parent request.
func (h *Handler) SelectRequest(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	requestID, err := strconv.ParseInt(chi.URLParam(r, "requestID"), 10, 64)
	if err != nil || requestID <= 0 {
		h.writeError(w, r, fmt.Errorf("%w: invalid request id", ErrInvalidInput))
		return
	}
	added, err := agg.SelectRequest(r.Context(), requestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"added": len(added), "form": h.form(id, agg)},
	})
}

// DeselectRequest removes every line imported from a parent request.
func (h *Handler) DeselectRequest(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	requestID, err := strconv.ParseInt(chi.URLParam(r, "requestID"), 10, 64)
	if err != nil || requestID <= 0 {
		h.writeError(w, r, fmt.Errorf("%w: invalid request id", ErrInvalidInput))
		return
	}
	removed := agg.DeselectRequest(requestID)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"removed": removed, "form": h.form(id, agg)},
	})
}

// Submit validates the form and returns the hidden-field values.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	_, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	payload, err := agg.Submit(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"fields": payload.Fields(h.consumablesField, h.assetsField)},
	})
}

// Export streams the current lines as a spreadsheet.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id, agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	items := append(agg.Items(lineitem.Consumable), agg.Items(lineitem.DurableAsset)...)
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, items); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=form-%s.xlsx", id))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (string, *Aggregator, bool) {
	id := chi.URLParam(r, "id")
	agg, err := h.registry.Get(id)
	if err != nil {
		h.writeError(w, r, err)
		return "", nil, false
	}
	return id, agg, true
}

func (h *Handler) form(id string, agg *Aggregator) formResponse {
	return formResponse{
		ID:               id,
		Flow:             agg.Flow().String(),
		SelectedRequests: agg.SelectedRequests(),
		View:             agg.View(),
	}
}

func (h *Handler) decode(r *http.Request, dst any, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: malformed json body", ErrInvalidInput)
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		return common.NewAppError("INVALID_INPUT", "request body failed validation", http.StatusBadRequest,
			fmt.Errorf("%w: %v", ErrInvalidInput, err)).WithDetails(validationDetails(err))
	}
	return nil
}

func validationDetails(err error) []map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
	}
	return out
}

func rowParams(r *http.Request) (lineitem.Kind, int, error) {
	kind, err := lineitem.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid row index", ErrInvalidInput)
	}
	return kind, index, nil
}

func valueOr(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil {
		return fallback
	}
	return *v
}

var errorMappings = []common.ErrorMapping{
	{Target: lineitem.ErrNotFound, Code: "NOT_FOUND", Status: http.StatusNotFound},
	{Target: lineitem.ErrDuplicateReference, Code: "DUPLICATE_REFERENCE", Status: http.StatusConflict},
	{Target: lineitem.ErrParentOwned, Code: "PARENT_OWNED", Status: http.StatusConflict},
	{Target: ErrToggleInProgress, Code: "TOGGLE_IN_PROGRESS", Status: http.StatusConflict},
	{Target: ErrSelectionChanged, Code: "SELECTION_CHANGED", Status: http.StatusConflict},
	{Target: fetcher.ErrFetchFailed, Code: "FETCH_FAILED", Status: http.StatusBadGateway, Message: "could not load request details"},
	{Target: ErrInvalidInput, Code: "INVALID_INPUT", Status: http.StatusBadRequest},
	{Target: lineitem.ErrInvalidKind, Code: "INVALID_INPUT", Status: http.StatusBadRequest},
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		common.WriteError(w, common.NewAppError("VALIDATION_FAILED", "one or more lines are invalid",
			http.StatusUnprocessableEntity, err).WithDetails(verr.Fields))
		return
	}
	appErr, ok := common.ResolveError(err, errorMappings)
	switch {
	case !ok:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("form request failed")
		appErr = common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	case appErr.HTTPStatus >= http.StatusInternalServerError:
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("code", appErr.Code).Msg("form request failed upstream")
	}
	common.WriteError(w, appErr)
}
