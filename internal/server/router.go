package server

import (
	"fmt"
	"net/http"
	"strings"
)

// AdminHTTP defines the surface the admin router needs from the runtime.
type AdminHTTP interface {
	ServeWarmup(http.ResponseWriter, *http.Request)
	ServeVersion(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeResolve(http.ResponseWriter, *http.Request)
	ServeReload(http.ResponseWriter, *http.Request)
	TableExists(string) bool
	RequestWithTableHint(*http.Request, string) *http.Request
	WriteError(http.ResponseWriter, int, string)
}

// NewAdminHandler routes the admin surface. Table-scoped forms such as
// /circuit/resolve carry the table to the runtime as a request hint. metrics
// may be nil, in which case /metrics is not served.
func NewAdminHandler(a AdminHTTP, metrics http.Handler) http.Handler {
	if a == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "runtime unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table, route, ok := parseAdminRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if table != "" {
			if !a.TableExists(table) {
				a.WriteError(w, http.StatusNotFound, fmt.Sprintf("table %q not found", table))
				return
			}
			r = a.RequestWithTableHint(r, table)
		}

		switch route {
		case "warmup":
			a.ServeWarmup(w, r)
		case "version":
			a.ServeVersion(w, r)
		case "healthz":
			a.ServeHealth(w, r)
		case "resolve":
			a.ServeResolve(w, r)
		case "reload":
			a.ServeReload(w, r)
		case "metrics":
			if metrics == nil {
				http.NotFound(w, r)
				return
			}
			metrics.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func parseAdminRoute(path string) (string, string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		route := strings.ToLower(parts[0])
		switch route {
		case "warmup", "version", "resolve", "reload", "metrics":
			return "", route, true
		case "health", "healthz":
			return "", "healthz", true
		}
	case 2:
		route := strings.ToLower(parts[1])
		switch route {
		case "resolve", "reload":
			return parts[0], route, true
		case "health", "healthz":
			return parts[0], "healthz", true
		}
	}
	return "", "", false
}
