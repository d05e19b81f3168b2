package server

import (
	"net/http"
	"strings"
)

// WidgetAPI defines the surface the router needs from the development host
// to serve the widget's collaborating services.
type WidgetAPI interface {
	ServeWidgetConfig(http.ResponseWriter, *http.Request, string)
	ServeConsent(http.ResponseWriter, *http.Request)
	ServePolicy(http.ResponseWriter, *http.Request, string)
	ServeHealth(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewWidgetHandler wires URL dispatch to the host API so the lifecycle
// server owns routing without the host embedding path logic.
func NewWidgetHandler(api WidgetAPI, metricsHandler http.Handler) http.Handler {
	if api == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "host unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, siteID, ok := parseWidgetRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch route {
		case "widget":
			if r.Method != http.MethodGet {
				api.WriteError(w, http.StatusMethodNotAllowed, "GET required")
				return
			}
			api.ServeWidgetConfig(w, r, siteID)
		case "consent":
			if r.Method != http.MethodPost {
				api.WriteError(w, http.StatusMethodNotAllowed, "POST required")
				return
			}
			api.ServeConsent(w, r)
		case "policy":
			if r.Method != http.MethodGet {
				api.WriteError(w, http.StatusMethodNotAllowed, "GET required")
				return
			}
			api.ServePolicy(w, r, siteID)
		case "healthz":
			api.ServeHealth(w, r)
		case "metrics":
			if metricsHandler == nil {
				api.WriteError(w, http.StatusNotFound, "metrics disabled")
				return
			}
			metricsHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func parseWidgetRoute(path string) (string, string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		route := strings.ToLower(parts[0])
		switch route {
		case "consent", "metrics":
			return route, "", true
		case "health", "healthz":
			return "healthz", "", true
		}
	case 2:
		route := strings.ToLower(parts[0])
		switch route {
		case "widget", "policy":
			if parts[1] == "" {
				return "", "", false
			}
			return route, parts[1], true
		}
	}
	return "", "", false
}
