package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/bmc-account-service/internal/domain"
	"github.com/sandeepkv93/bmc-account-service/internal/http/response"
	"github.com/sandeepkv93/bmc-account-service/internal/observability"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
)

type contextKey string

const (
	AccountContextKey contextKey = "account"
)

const credentialsDetail = "Could not validate credentials"

// AccountResolver maps a token subject back to a live account; nil means the subject no longer authenticates.
type AccountResolver interface {
	ResolveActive(ctx context.Context, email string) (*domain.Account, error)
}

// AuthMiddleware accepts only "Authorization: Bearer" and re-reads the account on every request, so tokens
// for renamed-away, deactivated or deleted accounts stop working before they expire.
func AuthMiddleware(tokens *security.TokenManager, accounts AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(ctx, "missing", "header")
				response.Detail(w, r, http.StatusUnauthorized, credentialsDetail)
				return
			}
			claims, err := tokens.Validate(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(ctx, "invalid", "header")
				response.Detail(w, r, http.StatusUnauthorized, credentialsDetail)
				return
			}
			acc, err := accounts.ResolveActive(ctx, claims.Subject)
			if err != nil {
				observability.RecordAccessTokenValidation(ctx, "resolve_error", "header")
				response.Detail(w, r, http.StatusUnauthorized, credentialsDetail)
				return
			}
			if acc == nil {
				observability.RecordAccessTokenValidation(ctx, "unknown_subject", "header")
				response.Detail(w, r, http.StatusUnauthorized, credentialsDetail)
				return
			}
			observability.RecordAccessTokenValidation(ctx, "ok", "header")
			annotateRequestAccount(ctx, acc.Username)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, AccountContextKey, acc)))
		})
	}
}

func AccountFromContext(ctx context.Context) (*domain.Account, bool) {
	acc, ok := ctx.Value(AccountContextKey).(*domain.Account)
	return acc, ok && acc != nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
