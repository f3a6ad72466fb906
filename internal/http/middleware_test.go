package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func newMiddlewareServer(buf *bytes.Buffer) *Server {
	s := &Server{
		logger: slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.mux.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.requestLogger(r.Context()).Info("handled")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })
	s.handler = s.mux
	return s
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestScopeTagsHandlerLogs(t *testing.T) {
	var buf bytes.Buffer
	s := newMiddlewareServer(&buf)
	req := httptest.NewRequest(http.MethodPost, "/orders/17", nil)
	req.Header.Set(requestIDHeader, "trace-1")
	req.Header.Set(userIDHeader, "42")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Header().Get(requestIDHeader) != "trace-1" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get(requestIDHeader))
	}
	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected handler and access lines, got %v", lines)
	}
	for _, l := range lines {
		if l["request_id"] != "trace-1" || l["actor_id"] != "42" {
			t.Fatalf("line missing request scope: %v", l)
		}
	}
	access := lines[1]
	if access["route"] != "/orders/{id}" || access["status"] != float64(http.StatusAccepted) || access["bytes"] != float64(2) {
		t.Fatalf("unexpected access line %v", access)
	}
}

func TestMalformedRequestIDReplaced(t *testing.T) {
	var buf bytes.Buffer
	s := newMiddlewareServer(&buf)
	for _, bad := range []string{"", "has space", strings.Repeat("x", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
		if bad != "" {
			req.Header.Set(requestIDHeader, bad)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if _, err := uuid.Parse(rec.Header().Get(requestIDHeader)); err != nil {
			t.Errorf("%q: expected generated uuid, got %q", bad, rec.Header().Get(requestIDHeader))
		}
	}
}

func TestPanicAnsweredAsJSON(t *testing.T) {
	var buf bytes.Buffer
	s := newMiddlewareServer(&buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error != "internal" {
		t.Fatalf("unexpected body %q: %v", rec.Body.String(), err)
	}
	lines := logLines(t, &buf)
	last := lines[len(lines)-1]
	if last["msg"] != "http_request" || last["level"] != "ERROR" || last["status"] != float64(http.StatusInternalServerError) {
		t.Fatalf("access line must record the 500, got %v", last)
	}
}
