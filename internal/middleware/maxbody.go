package middleware

import "net/http"

// MaxBodySize caps request bodies at n bytes. Reads past the cap fail
// with http.ErrBodyReadAfterClose-style errors inside the handler, so
// decoders surface an invalid-request error instead of buffering
// unbounded input.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
