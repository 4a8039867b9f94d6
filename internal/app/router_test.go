package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orderdesk/internal/app"
	"github.com/noah-isme/orderdesk/internal/config"
	"github.com/noah-isme/orderdesk/internal/health"
)

const upstreamBody = `{"detalles":[
  {"tipo":"articulo","referencia_id":1,"codigo":"ART-1","nombre":"Guantes","cantidad":2,"precio_unitario":"50","solicitud_id":7,"cantidad_pendiente":2},
  {"tipo":"activo","referencia_id":2,"codigo":"ACT-2","nombre":"Taladro","cantidad":1,"precio_unitario":"30","solicitud_id":7,"stock_actual":4}
]}`

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, upstreamBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newApp(t *testing.T, env map[string]string) (http.Handler, *app.Dependencies) {
	t.Helper()
	upstream := newUpstream(t)
	vars := map[string]string{
		"DETAILS_ENDPOINT_URL": upstream.URL + "/compras/api/obtener-detalles-solicitudes/",
		"DETAILS_MAX_ATTEMPTS": "1",
		"REDIS_URL":            "",
		"RATE_LIMIT":           "",
		"BODY_LIMIT_BYTES":     "",
		"OBS_ENABLE_PPROF":     "",
	}
	for k, v := range env {
		vars[k] = v
	}
	cfg, err := config.LoadForTests(vars)
	require.NoError(t, err)

	deps, cleanup, err := app.Build(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app.NewRouter(deps), deps
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterSelectsParentRequestEndToEnd(t *testing.T) {
	h, _ := newApp(t, nil)

	rec := call(t, h, http.MethodPost, "/api/v1/forms", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = call(t, h, http.MethodPut, "/api/v1/forms/"+created.Data.ID+"/requests/7", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"added":2`)
	require.Contains(t, rec.Body.String(), `"grand":"130.00"`)

	rec = call(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "orderdesk_http_requests_total")
}

func TestRouterHealthEndpoints(t *testing.T) {
	mr := miniredis.RunT(t)
	h, deps := newApp(t, map[string]string{"REDIS_URL": "redis://" + mr.Addr()})
	require.NotNil(t, deps.Redis)

	rec := call(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ok", status["redis"])
	require.Equal(t, "ok", status["details"])

	mr.Close()
	rec = call(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterUnreachableRedisFallsBack(t *testing.T) {
	h, deps := newApp(t, map[string]string{"REDIS_URL": "redis://127.0.0.1:1"})
	require.Nil(t, deps.Redis)

	rec := call(t, h, http.MethodPost, "/api/v1/forms", "")
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestRouterRateLimitsAPI(t *testing.T) {
	h, _ := newApp(t, map[string]string{"RATE_LIMIT": "2-M"})

	for i := 0; i < 2; i++ {
		rec := call(t, h, http.MethodPost, "/api/v1/forms", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := call(t, h, http.MethodPost, "/api/v1/forms", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = call(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRejectsOversizedBody(t *testing.T) {
	h, _ := newApp(t, map[string]string{"BODY_LIMIT_BYTES": "64"})

	body := `{"flow":"order","padding":"` + strings.Repeat("x", 128) + `"}`
	rec := call(t, h, http.MethodPost, "/api/v1/forms", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestRouterUnknownRoute(t *testing.T) {
	h, _ := newApp(t, nil)
	rec := call(t, h, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}

func TestRouterPprofRequiresCredentials(t *testing.T) {
	h, _ := newApp(t, map[string]string{
		"OBS_ENABLE_PPROF":             "true",
		"SECURE_PPROF_BASIC_AUTH_USER": "ops",
		"SECURE_PPROF_BASIC_AUTH_PASS": "secret",
	})

	rec := call(t, h, http.MethodGet, "/debug/pprof/", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.SetBasicAuth("ops", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServeDrainsOnCancel(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })

	srv := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, srv) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
