package middleware

import "net/http"

// BodyLimit caps request bodies at maxBytes. Requests declaring a larger
// Content-Length are rejected up front with 413; others are wrapped in
// http.MaxBytesReader so handlers see an *http.MaxBytesError on overflow.
// A non-positive maxBytes disables the limit.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "invalid_request",
					"request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
