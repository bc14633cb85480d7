package api

import "net/http"

// ReadOnlyMiddleware wraps a handler so only read operations (GET) pass
// through; it is meant for an admin listener exposed on a local Unix
// socket, where a operator CLI should be able to check health and stats
// but not trigger a checkpoint.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "write operations not allowed on this listener", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
