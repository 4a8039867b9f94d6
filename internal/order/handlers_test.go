package order_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/orderdesk/internal/export"
	"github.com/noah-isme/orderdesk/internal/fetcher"
	"github.com/noah-isme/orderdesk/internal/order"
	"github.com/noah-isme/orderdesk/internal/presenter"
)

type formEnvelope struct {
	Data struct {
		ID               string         `json:"id"`
		Flow             string         `json:"flow"`
		SelectedRequests []int64        `json:"selected_requests"`
		View             presenter.View `json:"view"`
	} `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func newServer(t *testing.T, f *fakeFetcher) http.Handler {
	t.Helper()
	reg := order.NewRegistry(order.RegistryConfig{Fetcher: f})
	h := order.NewHandler(order.HandlerConfig{Registry: reg})
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func createForm(t *testing.T, srv http.Handler, body string) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/forms", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env formEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Data.ID)
	return env.Data.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandlersManualFlow(t *testing.T) {
	srv := newServer(t, &fakeFetcher{})
	id := createForm(t, srv, "")
	base := "/api/v1/forms/" + id

	rec := do(t, srv, http.MethodPost, base+"/items",
		`{"kind":"articulo","reference_id":10,"name":"Cemento","quantity":5,"unit_price":"100","ceiling":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env formEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "order", env.Data.Flow)
	require.Equal(t, "500.00", env.Data.View.Totals.Grand)

	rec = do(t, srv, http.MethodPost, base+"/items", `{"kind":"consumable","reference_id":10,"name":"Cemento"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "DUPLICATE_REFERENCE", decodeError(t, rec).Error.Code)

	rec = do(t, srv, http.MethodPatch, base+"/items/consumable/1", `{"quantity":"15"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errEnv := decodeError(t, rec)
	require.Equal(t, "VALIDATION_FAILED", errEnv.Error.Code)
	var fields []order.FieldError
	require.NoError(t, json.Unmarshal(errEnv.Error.Details, &fields))
	require.Len(t, fields, 1)
	require.Equal(t, order.FieldQuantity, fields[0].Field)

	rec = do(t, srv, http.MethodPatch, base+"/items/consumable/1", `{"quantity":"15","unit_price":"200"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	fields = nil
	require.NoError(t, json.Unmarshal(decodeError(t, rec).Error.Details, &fields))
	require.Len(t, fields, 1)

	rec = do(t, srv, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	env = formEnvelope{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Data.View.Consumables[0].Invalid)
	require.Equal(t, "5", env.Data.View.Consumables[0].Quantity)
	require.Equal(t, "100.00", env.Data.View.Consumables[0].UnitPrice, "a rejected edit applies no field")
	require.Equal(t, "500.00", env.Data.View.Totals.Grand)

	rec = do(t, srv, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodPatch, base+"/items/consumable/1", `{"quantity":"4","discount":"500"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env = formEnvelope{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "-100.00", env.Data.View.Totals.Grand)

	rec = do(t, srv, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var submitted struct {
		Data struct {
			Fields map[string]string `json:"fields"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Contains(t, submitted.Data.Fields["detalles_articulos"], `"articulo_id":10,"cantidad":4,"precio_unitario":100`)
	require.Equal(t, "[]", submitted.Data.Fields["detalles_activos"])

	rec = do(t, srv, http.MethodDelete, base+"/items/consumable/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodDelete, base+"/items/consumable/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodDelete, base, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodGet, base, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)
}

func TestHandlersParentRequests(t *testing.T) {
	f := &fakeFetcher{records: requestR1()}
	srv := newServer(t, f)
	id := createForm(t, srv, `{"flow":"entrega"}`)
	base := "/api/v1/forms/" + id

	rec := do(t, srv, http.MethodPut, base+"/requests/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var selected struct {
		Data struct {
			Added int `json:"added"`
			Form  struct {
				Flow             string         `json:"flow"`
				SelectedRequests []int64        `json:"selected_requests"`
				View             presenter.View `json:"view"`
			} `json:"form"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &selected))
	require.Equal(t, 2, selected.Data.Added)
	require.Equal(t, "delivery", selected.Data.Form.Flow)
	require.Equal(t, []int64{1}, selected.Data.Form.SelectedRequests)
	require.Equal(t, "130.00", selected.Data.Form.View.Totals.Grand)
	require.False(t, selected.Data.Form.View.Consumables[0].Removable)

	rec = do(t, srv, http.MethodDelete, base+"/items/consumable/1", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "PARENT_OWNED", decodeError(t, rec).Error.Code)

	rec = do(t, srv, http.MethodGet, base+"/export.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err := wb.GetRows(export.ConsumablesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.NoError(t, wb.Close())

	rec = do(t, srv, http.MethodDelete, base+"/requests/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"removed":2`)

	f.mu.Lock()
	f.err = fmt.Errorf("%w: connection refused", fetcher.ErrFetchFailed)
	f.mu.Unlock()
	rec = do(t, srv, http.MethodPut, base+"/requests/1", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "FETCH_FAILED", decodeError(t, rec).Error.Code)
}

func TestHandlersRejectBadInput(t *testing.T) {
	srv := newServer(t, &fakeFetcher{})
	id := createForm(t, srv, "")
	base := "/api/v1/forms/" + id

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"unknown flow", http.MethodPost, "/api/v1/forms", `{"flow":"refund"}`},
		{"malformed json", http.MethodPost, base + "/items", `{"kind":`},
		{"missing name", http.MethodPost, base + "/items", `{"kind":"asset","reference_id":1}`},
		{"unknown kind", http.MethodPost, base + "/items", `{"kind":"vehicle","reference_id":1,"name":"x"}`},
		{"bad index", http.MethodPatch, base + "/items/asset/zero", `{"quantity":"1"}`},
		{"empty patch", http.MethodPatch, base + "/items/asset/1", `{}`},
		{"bad request id", http.MethodPut, base + "/requests/-4", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, tc.method, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.Equal(t, "INVALID_INPUT", decodeError(t, rec).Error.Code)
		})
	}

	rec := do(t, srv, http.MethodPatch, base+"/items/asset/9", `{"quantity":"1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/forms/"+strings.Repeat("0", 8), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersAddItemQuantity(t *testing.T) {
	srv := newServer(t, &fakeFetcher{})
	id := createForm(t, srv, "")
	base := "/api/v1/forms/" + id

	rec := do(t, srv, http.MethodPost, base+"/items", `{"kind":"asset","reference_id":3,"name":"Taladro","quantity":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.Equal(t, "VALIDATION_FAILED", decodeError(t, rec).Error.Code)

	rec = do(t, srv, http.MethodGet, base, "")
	var env formEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Empty(t, env.Data.View.Assets)

	rec = do(t, srv, http.MethodPost, base+"/items", `{"kind":"asset","reference_id":3,"name":"Taladro"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	env = formEnvelope{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data.View.Assets, 1)
	require.Equal(t, "1", env.Data.View.Assets[0].Quantity)
}
