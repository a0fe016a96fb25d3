// ABOUTME: Permissive cross-origin headers applied to every response, errors and 404s included.
package web

import "net/http"

var corsHeaderValues = map[string]string{
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Methods":     "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":     "Content-Type, Authorization",
	"Access-Control-Allow-Credentials": "false",
}

// corsHeaders sets the headers before calling next so they survive panics
// recovered further down the chain.
func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range corsHeaderValues {
			h.Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
