package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type requestLogKey struct{}

// requestLogFields is shared between the outer request logger and route-level
// middleware so the access line can name the account a token resolved to.
type requestLogFields struct {
	account string
}

func annotateRequestAccount(ctx context.Context, username string) {
	if f, ok := ctx.Value(requestLogKey{}).(*requestLogFields); ok {
		f.account = username
	}
}

// StructuredRequestLogger writes one "http.request" line per request.
// 5xx logs at error; 401, 403 and 429 log at warn since they track credential abuse.
func StructuredRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := &requestLogFields{}
		r = r.WithContext(context.WithValue(r.Context(), requestLogKey{}, fields))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		attrs := []any{
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"client_ip", clientIPKey(r),
		}
		if fields.account != "" {
			attrs = append(attrs, "account", fields.account)
		}
		if ua := r.UserAgent(); ua != "" {
			attrs = append(attrs, "user_agent", ua)
		}
		slog.Log(r.Context(), requestLogLevel(status), "http.request", attrs...)
	})
}

func requestLogLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
