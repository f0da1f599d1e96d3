package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/bmc-account-service/internal/http/handler"
	"github.com/sandeepkv93/bmc-account-service/internal/repository"
	"github.com/sandeepkv93/bmc-account-service/internal/security"
	"github.com/sandeepkv93/bmc-account-service/internal/service"
)

type routerFixture struct {
	server *httptest.Server
	db     *gorm.DB
}

func newRouterFixture(t *testing.T, dep Dependencies) *routerFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&repository.AccountRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	tokens, err := security.NewTokenManager("abcdefghijklmnopqrstuvwxyz123456", "HS256", 30*time.Minute)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	svc := service.NewAccountService(
		repository.NewGormAccountRepository(db),
		&security.PasswordHasher{Iterations: 1000},
		nil,
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	dep.AccountHandler = handler.NewAccountHandler(svc, tokens)
	dep.TokenManager = tokens
	dep.Accounts = svc
	if dep.APIRateLimitRPM == 0 {
		dep.APIRateLimitRPM = 1000
	}
	if dep.AuthRateLimitRPM == 0 {
		dep.AuthRateLimitRPM = 1000
	}
	srv := httptest.NewServer(NewRouter(dep))
	t.Cleanup(srv.Close)
	return &routerFixture{server: srv, db: db}
}

func (fx *routerFixture) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, fx.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRouterAccountLifecycle(t *testing.T) {
	fx := newRouterFixture(t, Dependencies{})

	resp, body := fx.do(t, http.MethodPost, "/bmc/user/signup", "", `{"username":"alice","email":"alice@x.com","password":"Secret123"}`)
	if resp.StatusCode != http.StatusOK || body["message"] != "SUCCESS" || body["username"] != "alice" {
		t.Fatalf("signup: %d %v", resp.StatusCode, body)
	}

	resp, body = fx.do(t, http.MethodPost, "/bmc/user/login", "", `{"username":"alice","password":"Secret123"}`)
	token, _ := body["access_token"].(string)
	if resp.StatusCode != http.StatusOK || token == "" {
		t.Fatalf("login: %d %v", resp.StatusCode, body)
	}

	resp, body = fx.do(t, http.MethodPost, "/bmc/user/profile", token, `{"full_name":"Alice","username":"alice","profession_type":"artist","support_type":"coffee"}`)
	if resp.StatusCode != http.StatusOK || body["message"] != "SUCCESS" {
		t.Fatalf("update profile: %d %v", resp.StatusCode, body)
	}

	resp, body = fx.do(t, http.MethodGet, "/bmc/user/profile?username=alice", "", "")
	data, _ := body["data"].(map[string]any)
	if resp.StatusCode != http.StatusOK || data["full_name"] != "Alice" {
		t.Fatalf("public profile: %d %v", resp.StatusCode, body)
	}
	if _, leaked := data["password"]; leaked {
		t.Fatalf("public profile leaked password: %v", data)
	}

	resp, body = fx.do(t, http.MethodPost, "/bmc/user/wallet", token, `{"wallet":{"Eth":{"address":"0x1"}}}`)
	if resp.StatusCode != http.StatusOK || body["message"] != "SUCCESS" {
		t.Fatalf("update wallet: %d %v", resp.StatusCode, body)
	}
	_, body = fx.do(t, http.MethodGet, "/bmc/user/wallet?email=alice@x.com&walletId=Eth", "", "")
	if entry, _ := body["data"].(map[string]any); entry["address"] != "0x1" {
		t.Fatalf("get wallet: %v", body)
	}

	_, body = fx.do(t, http.MethodGet, "/bmc/user/username?username=alice", "", "")
	if body["message"] != "USERNAME_EXIST" {
		t.Fatalf("check username: %v", body)
	}
	_, body = fx.do(t, http.MethodGet, "/bmc/user/email?email=bob@x.com", "", "")
	if body["message"] != "EMAIL_NOT_EXIST" {
		t.Fatalf("check email: %v", body)
	}
}

func TestRouterRejectsTokensForAccountsThatNoLongerResolve(t *testing.T) {
	fx := newRouterFixture(t, Dependencies{})

	_, body := fx.do(t, http.MethodPost, "/bmc/user/signup", "", `{"username":"alice","email":"alice@x.com","password":"Secret123"}`)
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("signup: %v", body)
	}
	if err := fx.db.Model(&repository.AccountRecord{}).Where("email = ?", "alice@x.com").Update("status", "DEACTIVATED").Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	resp, body := fx.do(t, http.MethodPost, "/bmc/user/wallet", token, `{"wallet":{}}`)
	if resp.StatusCode != http.StatusUnauthorized || body["detail"] != "Could not validate credentials" {
		t.Fatalf("expected 401 for deactivated account, got %d %v", resp.StatusCode, body)
	}
}

func TestRouterLoginFailureAndAuthRateLimit(t *testing.T) {
	fx := newRouterFixture(t, Dependencies{AuthRateLimitRPM: 2})

	for i := 0; i < 2; i++ {
		resp, body := fx.do(t, http.MethodPost, "/bmc/user/login", "", `{"username":"ghost","password":"x"}`)
		if resp.StatusCode != http.StatusUnauthorized || body["detail"] != "Incorrect username or password" {
			t.Fatalf("attempt %d: expected opaque 401, got %d %v", i+1, resp.StatusCode, body)
		}
	}
	resp, _ := fx.do(t, http.MethodPost, "/bmc/user/login", "", `{"username":"ghost","password":"x"}`)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 429 from auth limiter, got %d", resp.StatusCode)
	}
	if resp, _ := fx.do(t, http.MethodGet, "/bmc/user/profile?username=ghost", "", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected public routes outside the auth limiter, got %d", resp.StatusCode)
	}
}

func TestRouterHealthAndAvatarRoutesGated(t *testing.T) {
	fx := newRouterFixture(t, Dependencies{})

	resp, body := fx.do(t, http.MethodGet, "/health/live", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("live: %d %v", resp.StatusCode, body)
	}
	resp, body = fx.do(t, http.MethodGet, "/health/ready", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready: %d %v", resp.StatusCode, body)
	}
	if resp, _ := fx.do(t, http.MethodPost, "/bmc/user/avatar", "", ""); resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected avatar routes absent without storage, got %d", resp.StatusCode)
	}
}
