package api

import (
	"context"
	"net/http"
	"time"
)

type contextKey string

// userIDKey carries the authenticated user id through the request.
const userIDKey contextKey = "user_id"

// userID returns the authenticated user for the request.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// authMiddleware resolves the bearer token and rejects privileged calls
// while the system is still in setup mode.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := s.store.UserCount(r.Context())
		if err != nil {
			writeError(w, internal())
			return
		}
		if count == 0 {
			writeError(w, unavailable("Setup required: claim the admin account first"))
			return
		}

		uid, err := s.auth.ResolveBearer(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, unauthorized())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

// loggingMiddleware logs one line per request and feeds the latency
// histogram.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		elapsed := time.Since(start)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", recorder.status, "duration", elapsed)
		if s.metrics != nil {
			s.metrics.RequestDuration.WithLabelValues(r.URL.Path, r.Method).Observe(elapsed.Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes the SSE flush through to the underlying writer.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
