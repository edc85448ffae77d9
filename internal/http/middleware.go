package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// RequestIDHeader carries the per-request id in both directions.
const RequestIDHeader = "X-Request-ID"

type middleware func(http.HandlerFunc) http.HandlerFunc

// chain applies mws so the first one runs outermost.
func chain(h http.HandlerFunc, mws ...middleware) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type ctxKey struct{}

// requestID tags every request with a UUID. An inbound id is reused only
// when it parses as a UUID, so callers cannot inject text into logs.
func (s *Server) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	}
}

func getRequestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// statusRecorder remembers the status and body size written.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// logRequest logs each request once it completes: server errors at warn,
// everything else at debug.
func (s *Server) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(sr, r)

		keyvals := []any{
			"id", getRequestID(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"bytes", sr.bytes,
			"elapsed", time.Since(start).Round(time.Millisecond),
		}
		if sr.status >= http.StatusInternalServerError {
			L_warn("http: request failed", keyvals...)
			return
		}
		L_debug("http: request", keyvals...)
	}
}

// securityHeaders drops fingerprinting headers and disables sniffing.
func (s *Server) securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Del("Server")
		h.Del("X-Powered-By")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		next(w, r)
	}
}
