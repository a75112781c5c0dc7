package middleware

import (
	"net/http"

	"playground/internal/logging"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestLog attaches a request-scoped logger to the context and logs each
// request when it completes.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := logging.L().With(zap.String("request_id", reqID))
		r = r.WithContext(logging.Into(r.Context(), log))
		w.Header().Set("X-Request-Id", reqID)

		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
			zap.Int64("bytes", m.Written))
	})
}
