package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/bmc-account-service/internal/health"
	"github.com/sandeepkv93/bmc-account-service/internal/http/handler"
	"github.com/sandeepkv93/bmc-account-service/internal/http/middleware"
	"github.com/sandeepkv93/bmc-account-service/internal/http/response"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
)

const (
	defaultBodyLimit = 1 << 20
	avatarBodyLimit  = 6 << 20
)

type Dependencies struct {
	AccountHandler    *handler.AccountHandler
	TokenManager      *security.TokenManager
	Accounts          middleware.AccountResolver
	CORSOrigins       []string
	AuthRateLimitRPM  int
	APIRateLimitRPM   int
	GlobalRateLimiter GlobalRateLimiterFunc
	AuthRateLimiter   AuthRateLimiterFunc
	AvatarsEnabled    bool
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	requireAccount := middleware.AuthMiddleware(dep.TokenManager, dep.Accounts)
	body := middleware.BodyLimit(defaultBodyLimit)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	h := dep.AccountHandler
	r.Route("/bmc/user", func(r chi.Router) {
		r.With(authLimiter, body).Post("/signup", h.Signup)
		r.With(authLimiter, body).Post("/login", h.Login)

		r.Get("/profile", h.GetPublicProfile)
		r.Get("/wallet", h.GetWallet)
		r.Get("/username", h.CheckUsername)
		r.Get("/email", h.CheckEmail)

		r.With(requireAccount, body).Post("/profile", h.UpdateProfile)
		r.With(requireAccount, body).Post("/wallet", h.UpdateWallet)
		if dep.AvatarsEnabled {
			r.Get("/avatar", h.Avatar)
			r.With(requireAccount, middleware.BodyLimit(avatarBodyLimit)).Post("/avatar", h.UploadAvatar)
		}
	})

	var out http.Handler = r
	if dep.EnableOTelHTTP {
		out = otelhttp.NewHandler(r, "http.server")
	}
	return out
}
