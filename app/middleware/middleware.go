package appMiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// NoStore keeps browsers and proxies from caching session-bound responses.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Vary", "Cookie")
		next.ServeHTTP(w, r)
	})
}

// RequestIDHeader echoes the request id assigned by middleware.RequestID.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}
