package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orderdesk/internal/common"
)

var errGone = errors.New("gone")

func TestResolveError(t *testing.T) {
	mappings := []common.ErrorMapping{
		{Target: errGone, Code: "NOT_FOUND", Status: http.StatusNotFound},
	}

	appErr, ok := common.ResolveError(fmt.Errorf("row 3: %w", errGone), mappings)
	require.True(t, ok)
	require.Equal(t, "NOT_FOUND", appErr.Code)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
	require.Equal(t, "row 3: gone", appErr.Message)
	require.ErrorIs(t, appErr, errGone)

	explicit := common.NewAppError("INVALID_INPUT", "bad body", http.StatusBadRequest, errGone)
	appErr, ok = common.ResolveError(fmt.Errorf("decode: %w", explicit), mappings)
	require.True(t, ok)
	require.Same(t, explicit, appErr)

	_, ok = common.ResolveError(errors.New("boom"), mappings)
	require.False(t, ok)
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	base := common.NewAppError("VALIDATION_FAILED", "invalid", http.StatusUnprocessableEntity, nil)
	common.WriteError(rec, base.WithDetails([]string{"quantity"}))
	require.Nil(t, base.Details)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	require.Equal(t, []any{"quantity"}, body.Error.Details)

	rec = httptest.NewRecorder()
	common.WriteError(rec, &common.AppError{Code: "INTERNAL", Message: "internal error"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		forward string
		realIP  string
		remote  string
		want    string
	}{
		{"forwarded chain", "203.0.113.9, 10.0.0.1", "", "10.0.0.2:4000", "203.0.113.9"},
		{"skips junk entries", "unknown, 198.51.100.4", "", "10.0.0.2:4000", "198.51.100.4"},
		{"real ip header", "", "198.51.100.7", "10.0.0.2:4000", "198.51.100.7"},
		{"peer address", "", "", "192.0.2.10:5555", "192.0.2.10"},
		{"mapped ipv4", "", "", "[::ffff:192.0.2.11]:80", "192.0.2.11"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.forward != "" {
				r.Header.Set("X-Forwarded-For", tc.forward)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			require.Equal(t, tc.want, common.ClientIP(r))
		})
	}
}
