package middleware

import (
	"net/http"
)

// MaxBodySize is the default request body limit (1MB)
const MaxBodySize = 1 << 20

// LimitBody caps request bodies at max bytes; zero or less uses MaxBodySize
func LimitBody(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = MaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}
