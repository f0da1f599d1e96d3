package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
)

type captureHandler struct {
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func captureDefaultLogger(t *testing.T) *captureHandler {
	t.Helper()
	orig := slog.Default()
	h := &captureHandler{}
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return h
}

func TestStructuredRequestLoggerLevels(t *testing.T) {
	logs := captureDefaultLogger(t)

	cases := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusBadRequest, slog.LevelInfo},
		{http.StatusUnauthorized, slog.LevelWarn},
		{http.StatusTooManyRequests, slog.LevelWarn},
		{http.StatusServiceUnavailable, slog.LevelError},
	}
	r := chi.NewRouter()
	r.Use(StructuredRequestLogger)
	r.Get("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(chi.URLParam(r, "code"))
		w.WriteHeader(code)
	})

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/status/"+strconv.Itoa(tc.status), nil)
		req.RemoteAddr = "198.51.100.10:3456"
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if len(logs.records) != len(cases) {
		t.Fatalf("expected %d records, got %d", len(cases), len(logs.records))
	}
	for i, tc := range cases {
		rec := logs.records[i]
		if rec.Level != tc.want {
			t.Fatalf("status %d: level %v want %v", tc.status, rec.Level, tc.want)
		}
		attrs := recordAttrs(rec)
		if attrs["route"] != "/status/{code}" || attrs["client_ip"] != "198.51.100.10" {
			t.Fatalf("status %d: unexpected attrs %v", tc.status, attrs)
		}
		if _, ok := attrs["account"]; ok {
			t.Fatalf("status %d: anonymous request logged an account", tc.status)
		}
	}
}

func TestStructuredRequestLoggerNamesResolvedAccount(t *testing.T) {
	logs := captureDefaultLogger(t)

	r := chi.NewRouter()
	r.Use(StructuredRequestLogger)
	resolve := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			annotateRequestAccount(r.Context(), "alice")
			next.ServeHTTP(w, r)
		})
	}
	r.With(resolve).Post("/bmc/user/wallet", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/bmc/user/wallet", nil))

	if len(logs.records) != 1 {
		t.Fatalf("expected one record, got %d", len(logs.records))
	}
	attrs := recordAttrs(logs.records[0])
	if attrs["account"] != "alice" || attrs["status"] != "200" {
		t.Fatalf("expected account and fallback status, got %v", attrs)
	}
}

func TestAnnotateRequestAccountWithoutLoggerIsNoop(t *testing.T) {
	annotateRequestAccount(context.Background(), "alice")
}

func recordAttrs(rec slog.Record) map[string]string {
	out := map[string]string{}
	rec.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.String()
		return true
	})
	return out
}
