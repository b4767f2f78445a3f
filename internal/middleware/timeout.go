package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mediagate/pkg/logging/logging"
)

// Timeout cancels the request context after d and answers 504 if the
// handler is still running. Image generation calls are slow, so the
// budget here has to cover the full downstream retry window.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(w, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				logging.L(ctx).Warn("request timeout", zap.Duration("budget", d))
				writeErrorBody(w, http.StatusGatewayTimeout, "gateway_timeout",
					fmt.Sprintf("request exceeded the %s budget", d))
			}
		})
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%q,"message":%q}}`, code, message)
}
