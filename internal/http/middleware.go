package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/taxi-dispatch/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests no route claimed, so raw paths carrying
// ids never become metric labels.
const unmatchedRoute = "unmatched"

type ctxKey struct{}

// requestScope is what the middleware chain learns about a request before
// the handler runs.
type requestScope struct {
	id     string
	logger *slog.Logger
}

func (s *Server) registerMiddleware() {
	s.mux.Use(s.scopeMiddleware, s.accessMiddleware, s.recoverMiddleware)
}

// scopeMiddleware assigns the request id and a logger already tagged with it
// and with the acting user, when the caller names one.
func (s *Server) scopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := s.logger.With("request_id", id)
		if actor := r.Header.Get(userIDHeader); actor != "" {
			logger = logger.With("actor_id", actor)
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, &requestScope{id: id, logger: logger})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.requestLogger(r.Context()).Error("panic recovered", "error", rec, "route", routeTemplate(r))
				if rw, ok := w.(*statusRecorder); !ok || !rw.wroteHeader {
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// accessMiddleware records request metrics and one log line per request.
// Successful reads are the clients' polling traffic and log at debug.
func (s *Server) accessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeTemplate(r)
		code := strconv.Itoa(rec.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())

		level := slog.LevelInfo
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case r.Method == http.MethodGet && rec.status < http.StatusBadRequest:
			level = slog.LevelDebug
		}
		s.requestLogger(r.Context()).Log(r.Context(), level, "http_request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", clientIP(r),
		)
	})
}

// requestLogger returns the logger tagged by scopeMiddleware, or the server
// logger outside the chain.
func (s *Server) requestLogger(ctx context.Context) *slog.Logger {
	if sc, ok := ctx.Value(ctxKey{}).(*requestScope); ok {
		return sc.logger
	}
	return s.logger
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// validRequestID accepts caller ids up to 64 printable, non-space characters.
func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return unmatchedRoute
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
