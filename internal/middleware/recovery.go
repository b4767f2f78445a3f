package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"mediagate/pkg/logging/logging"
)

// Recoverer turns a handler panic into a 500 with the same error body
// shape the handlers use, and logs the stack.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.L(r.Context()).Error("panic recovered",
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					writeErrorBody(w, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
