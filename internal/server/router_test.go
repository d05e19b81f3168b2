package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWidgetRoute(t *testing.T) {
	tests := []struct {
		path   string
		route  string
		siteID string
		ok     bool
	}{
		{path: "/widget/site-a", route: "widget", siteID: "site-a", ok: true},
		{path: "/policy/site-a", route: "policy", siteID: "site-a", ok: true},
		{path: "/consent", route: "consent", ok: true},
		{path: "/healthz", route: "healthz", ok: true},
		{path: "/health", route: "healthz", ok: true},
		{path: "/metrics", route: "metrics", ok: true},
		{path: "/widget/", ok: false},
		{path: "/widget", ok: false},
		{path: "/", ok: false},
		{path: "/unknown/site-a", ok: false},
		{path: "/widget/site-a/extra", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			route, siteID, ok := parseWidgetRoute(tc.path)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.route, route)
				require.Equal(t, tc.siteID, siteID)
			}
		})
	}
}

func TestNewWidgetHandlerWithoutAPI(t *testing.T) {
	handler := NewWidgetHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
