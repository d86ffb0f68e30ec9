package middleware

import (
	"net/http"
)

// CORS answers cross-origin requests from allowedOrigin only ("*" allows
// any origin). Preflight requests end here with 204.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")
			switch {
			case allowedOrigin == "*":
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && origin == allowedOrigin:
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Email, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
