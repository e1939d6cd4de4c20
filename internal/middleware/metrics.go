package middleware

import (
	"net/http"
	"time"
)

// RequestObserver records served requests
type RequestObserver interface {
	ObserveRequest(route, method string, status int, duration time.Duration)
	RequestStarted() func()
}

// Metrics records request duration by matched route. It must wrap the ServeMux directly
// so the pattern the mux sets on the request is visible here.
func Metrics(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := observer.RequestStarted()
			defer done()

			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			observer.ObserveRequest(route, r.Method, rec.StatusCode, time.Since(start))
		})
	}
}
